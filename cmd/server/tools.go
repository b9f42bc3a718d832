package main

import (
	"fmt"
	"io"
	"os"

	"statarb/pkg/crypto"
)

// runTool обслуживает служебные подкоманды:
//
//	statarb gen-token        - новый токен API и его bcrypt-хеш для API_TOKEN_HASH
//	statarb seal <value>     - зашифровать секрет ключом ENCRYPTION_KEY (enc:...)
//
// Возвращает false, если аргументы не являются подкомандой.
func runTool(args []string, stdout io.Writer) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}

	switch args[0] {
	case "gen-token":
		token, err := crypto.GenerateToken(32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
			return true, 1
		}
		hash, err := crypto.HashToken(token, crypto.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash token: %v\n", err)
			return true, 1
		}
		fmt.Fprintf(stdout, "token:          %s\nAPI_TOKEN_HASH=%s\n", token, hash)
		return true, 0

	case "seal":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: statarb seal <value>")
			return true, 2
		}
		sealed, err := crypto.SealSecret(args[1], os.Getenv("ENCRYPTION_KEY"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seal: %v\n", err)
			return true, 1
		}
		fmt.Fprintln(stdout, sealed)
		return true, 0
	}

	return false, 0
}
