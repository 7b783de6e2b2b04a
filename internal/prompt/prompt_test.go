package prompt

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirm_Yes(t *testing.T) {
	r := strings.NewReader("y\n")
	var w bytes.Buffer
	got, err := Confirm(r, &w, "proceed?", nil)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !got {
		t.Error("Confirm() = false, want true for 'y'")
	}
}

func TestConfirm_No(t *testing.T) {
	r := strings.NewReader("no\n")
	var w bytes.Buffer
	got, err := Confirm(r, &w, "proceed?", nil)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if got {
		t.Error("Confirm() = true, want false for 'no'")
	}
}

func TestConfirm_DefaultOnEmpty(t *testing.T) {
	r := strings.NewReader("\n")
	var w bytes.Buffer
	def := true
	got, err := Confirm(r, &w, "proceed?", &def)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !got {
		t.Error("Confirm() = false, want default true on empty answer")
	}
}

func TestConfirm_Reprompts(t *testing.T) {
	r := strings.NewReader("maybe\ny\n")
	var w bytes.Buffer
	got, err := Confirm(r, &w, "proceed?", nil)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if !got {
		t.Error("Confirm() = false, want true after reprompt")
	}
	if !strings.Contains(w.String(), "please answer") {
		t.Error("Confirm() should print a reprompt message for invalid input")
	}
}
