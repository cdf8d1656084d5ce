package texml_test

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/tetrixcorps/compliantivr/internal/ivr/texml"
)

// wellFormed decodes the whole document, failing on any syntax error.
func wellFormed(t *testing.T, doc string) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return
		}
		if err != nil {
			t.Fatalf("not well-formed: %v\n%s", err, doc)
		}
	}
}

func TestEscape(t *testing.T) {
	got := texml.Escape(`Tom & Jerry <say> "hi" it's`)
	want := "Tom &amp; Jerry &lt;say&gt; &quot;hi&quot; it&apos;s"
	if got != want {
		t.Errorf("Escape = %q, want %q", got, want)
	}
}

func TestLanguage(t *testing.T) {
	cases := map[string]string{
		"":        "en-US",
		"en-US":   "en-US",
		"en_us":   "en-US",
		"es-mx":   "es-MX",
		"!!bogus": "en-US",
	}
	for in, want := range cases {
		if got := texml.Language(in); got != want {
			t.Errorf("Language(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResponse_AllVerbs(t *testing.T) {
	doc := texml.New("en-US").
		Say("Welcome & hello").
		Gather(texml.Gather{Action: "https://x/api/ivr/c1/gather?a=1&b=2", Timeout: 10, NumDigits: 1, Prompt: "Press 1."}).
		Record(texml.Record{Action: "https://x/rec", Timeout: 30, MaxLength: 300, PlayBeep: true, Transcribe: true}).
		Dial("+18005551234", 0).
		Enqueue("nurses", "").
		Redirect("https://x/api/ivr/c1/step/main_menu").
		Hangup().
		String()

	wellFormed(t, doc)

	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<Say voice="alice" language="en-US">Welcome &amp; hello</Say>`,
		`<Gather action="https://x/api/ivr/c1/gather?a=1&amp;b=2" method="POST" timeout="10" numDigits="1">`,
		`<Say voice="alice">Press 1.</Say>`,
		`<Record action="https://x/rec" method="POST" timeout="30" maxLength="300" playBeep="true" transcribe="true"/>`,
		`<Dial timeout="30" record="record-from-answer">`,
		`<Number>+18005551234</Number>`,
		`<Enqueue>nurses</Enqueue>`,
		`<Redirect method="POST">https://x/api/ivr/c1/step/main_menu</Redirect>`,
		`<Hangup/>`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("missing %q in\n%s", want, doc)
		}
	}
	if !strings.HasSuffix(doc, "</Response>") {
		t.Errorf("document not closed:\n%s", doc)
	}
}

func TestGather_Speech(t *testing.T) {
	doc := texml.New("es-MX").Gather(texml.Gather{Action: "a", Speech: true, Timeout: 5, Prompt: "Hable", PromptLanguage: true}).String()
	wellFormed(t, doc)
	if !strings.Contains(doc, `input="speech dtmf" speechTimeout="auto" speechModel="default" language="es-MX"`) {
		t.Errorf("speech attributes missing:\n%s", doc)
	}
	if !strings.Contains(doc, `<Say voice="alice" language="es-MX">Hable</Say>`) {
		t.Errorf("prompt language missing:\n%s", doc)
	}
}

func TestApology_IsWellFormed(t *testing.T) {
	doc := texml.Apology("")
	wellFormed(t, doc)
	if !strings.Contains(doc, "<Hangup/>") {
		t.Errorf("apology must hang up:\n%s", doc)
	}
}
