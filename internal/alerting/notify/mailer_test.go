// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notify

import (
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
)

func TestComposeMessage(t *testing.T) {
	raw, err := composeMessage(
		"alerts@x.com",
		[]string{"a@x.com", "b@x.com"},
		"[Threshold Breach Alert] 1 breach(es) detected.",
		"<html><body>table</body></html>",
	)
	if err != nil {
		t.Fatalf("composeMessage: %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("message does not parse: %v", err)
	}
	if got := msg.Header.Get("From"); got != "alerts@x.com" {
		t.Fatalf("From %q", got)
	}
	if got := msg.Header.Get("To"); got != "a@x.com,b@x.com" {
		t.Fatalf("To %q", got)
	}
	if got := msg.Header.Get("Subject"); !strings.Contains(got, "1 breach(es)") {
		t.Fatalf("Subject %q", got)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("content type %q: %v", mediaType, err)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("no body part: %v", err)
	}
	if ct := part.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("part content type %q", ct)
	}
	body, _ := io.ReadAll(part)
	if !strings.Contains(string(body), "<html>") {
		t.Fatalf("html body missing: %q", body)
	}
	if _, err := mr.NextPart(); err != io.EOF {
		t.Fatalf("expected a single part, got %v", err)
	}
}
