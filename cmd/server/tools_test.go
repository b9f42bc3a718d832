package main

import (
	"bytes"
	"strings"
	"testing"

	"statarb/pkg/crypto"
)

func TestRunTool_NotATool(t *testing.T) {
	for _, args := range [][]string{nil, {"--verbose"}} {
		if handled, _ := runTool(args, &bytes.Buffer{}); handled {
			t.Errorf("%v не подкоманда", args)
		}
	}
}

func TestRunTool_GenToken(t *testing.T) {
	var out bytes.Buffer
	handled, code := runTool([]string{"gen-token"}, &out)
	if !handled || code != 0 {
		t.Fatalf("handled=%v code=%d", handled, code)
	}

	var token, hash string
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		switch {
		case strings.HasPrefix(line, "token:"):
			token = strings.TrimSpace(strings.TrimPrefix(line, "token:"))
		case strings.HasPrefix(line, "API_TOKEN_HASH="):
			hash = strings.TrimPrefix(line, "API_TOKEN_HASH=")
		}
	}
	if err := crypto.VerifyToken(token, hash); err != nil {
		t.Errorf("хеш не соответствует токену: %v", err)
	}
}

func TestRunTool_Seal(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	t.Setenv("ENCRYPTION_KEY", key)

	var out bytes.Buffer
	handled, code := runTool([]string{"seal", "signer-api-key"}, &out)
	if !handled || code != 0 {
		t.Fatalf("handled=%v code=%d", handled, code)
	}

	plain, err := crypto.RevealSecret(strings.TrimSpace(out.String()), key)
	if err != nil || plain != "signer-api-key" {
		t.Errorf("RevealSecret = %q, %v", plain, err)
	}

	if _, code := runTool([]string{"seal"}, &out); code != 2 {
		t.Errorf("без значения code=%d, ожидали 2", code)
	}
}
