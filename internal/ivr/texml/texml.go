// Package texml builds the voice-markup documents returned to the telephony
// carrier. Every document is UTF-8, starts with an XML declaration and wraps
// a small fixed vocabulary of verbs in a single <Response> element. All text
// and attribute values pass through Escape.
package texml

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

const (
	ContentType = "text/xml; charset=utf-8"

	DefaultLanguage = "en-US"
	DefaultVoice    = "alice"

	header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n<Response>\n"
	footer = "</Response>"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// Escape replaces the five XML special characters with entity references.
func Escape(s string) string { return escaper.Replace(s) }

// Language canonicalises a BCP-47 tag ("en_us" → "en-US"). Empty or
// unparseable input yields DefaultLanguage.
func Language(tag string) string {
	tag = strings.TrimSpace(strings.ReplaceAll(tag, "_", "-"))
	if tag == "" {
		return DefaultLanguage
	}
	t, err := language.Parse(tag)
	if err != nil {
		return DefaultLanguage
	}
	return t.String()
}

// Response accumulates verbs. The zero value is not usable; call New.
type Response struct {
	b    strings.Builder
	lang string
}

// New starts a document whose Say verbs default to lang.
func New(lang string) *Response {
	r := &Response{lang: Language(lang)}
	r.b.WriteString(header)
	return r
}

// Lang is the canonical language the document speaks.
func (r *Response) Lang() string { return r.lang }

func (r *Response) line(indent int, s string) {
	r.b.WriteString(strings.Repeat("  ", indent))
	r.b.WriteString(s)
	r.b.WriteByte('\n')
}

func attr(name, value string) string {
	return " " + name + `="` + Escape(value) + `"`
}

func say(text, lang string) string {
	open := "<Say" + attr("voice", DefaultVoice)
	if lang != "" {
		open += attr("language", lang)
	}
	return open + ">" + Escape(text) + "</Say>"
}

// Say speaks text in the document language.
func (r *Response) Say(text string) *Response {
	r.line(1, say(text, r.lang))
	return r
}

// SayPlain speaks text without a language attribute, for fixed prompts.
func (r *Response) SayPlain(text string) *Response {
	r.line(1, say(text, ""))
	return r
}

// Gather collects keypad (and optionally speech) input and posts it to
// Action. Prompt is spoken inside the element.
type Gather struct {
	Action    string
	Timeout   int
	NumDigits int
	Speech    bool
	Prompt    string
	// PromptLanguage puts the document language on the inner prompt.
	PromptLanguage bool
}

func (r *Response) Gather(g Gather) *Response {
	open := "<Gather" + attr("action", g.Action) + attr("method", "POST")
	if g.Speech {
		open += attr("input", "speech dtmf") + attr("speechTimeout", "auto") +
			attr("speechModel", "default") + attr("language", r.lang)
	}
	if g.Timeout > 0 {
		open += attr("timeout", strconv.Itoa(g.Timeout))
	}
	if g.NumDigits > 0 {
		open += attr("numDigits", strconv.Itoa(g.NumDigits))
	}
	r.line(1, open+">")
	if g.Prompt != "" {
		lang := ""
		if g.PromptLanguage {
			lang = r.lang
		}
		r.line(2, say(g.Prompt, lang))
	}
	r.line(1, "</Gather>")
	return r
}

// Record captures caller audio. Zero Timeout or MaxLength omit the attribute.
type Record struct {
	Action     string
	Timeout    int
	MaxLength  int
	PlayBeep   bool
	Transcribe bool
	// FromAnswer records the whole call leg instead of a voicemail.
	FromAnswer bool
}

func (r *Response) Record(rec Record) *Response {
	el := "<Record" + attr("action", rec.Action) + attr("method", "POST")
	if rec.FromAnswer {
		el += attr("record", "record-from-answer")
	}
	if rec.Timeout > 0 {
		el += attr("timeout", strconv.Itoa(rec.Timeout))
	}
	if rec.MaxLength > 0 {
		el += attr("maxLength", strconv.Itoa(rec.MaxLength))
	}
	el += attr("playBeep", strconv.FormatBool(rec.PlayBeep))
	if rec.Transcribe {
		el += attr("transcribe", "true")
	}
	r.line(1, el+"/>")
	return r
}

// Dial bridges the call to number, recording from answer.
func (r *Response) Dial(number string, timeout int) *Response {
	if timeout <= 0 {
		timeout = 30
	}
	r.line(1, "<Dial"+attr("timeout", strconv.Itoa(timeout))+attr("record", "record-from-answer")+">")
	r.line(2, "<Number>"+Escape(number)+"</Number>")
	r.line(1, "</Dial>")
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.line(1, "<Redirect"+attr("method", "POST")+">"+Escape(url)+"</Redirect>")
	return r
}

// Enqueue places the caller in a named hold queue.
func (r *Response) Enqueue(queue, waitURL string) *Response {
	open := "<Enqueue"
	if waitURL != "" {
		open += attr("waitUrl", waitURL)
	}
	r.line(1, open+">"+Escape(queue)+"</Enqueue>")
	return r
}

func (r *Response) Hangup() *Response {
	r.line(1, "<Hangup/>")
	return r
}

// String closes the document. It may be called more than once.
func (r *Response) String() string {
	return r.b.String() + footer
}

// Apology is the safe fallback rendered whenever a webhook cannot be served.
func Apology(lang string) string {
	return New(lang).
		Say("We're sorry, we are unable to process your call right now. Please try again later.").
		Hangup().
		String()
}
