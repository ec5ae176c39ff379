package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/i5heu/ouroboros-privacy/internal/keys"
)

func main() { // A
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run() error { // A
	count := flag.Int("n", 1, "number of key files to generate")
	dir := flag.String("dir", ".", "directory for the key files")
	prefix := flag.String("prefix", "node", "file name prefix")
	flag.Parse()

	if *count < 1 {
		return fmt.Errorf("-n must be at least 1")
	}
	if err := os.MkdirAll(*dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", *dir, err)
	}
	for i := range *count {
		pair, err := keys.GenerateKeyPair()
		if err != nil {
			return err
		}
		name := *prefix + ".key"
		if *count > 1 {
			name = fmt.Sprintf("%s-%d.key", *prefix, i+1)
		}
		path := filepath.Join(*dir, name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := keys.WriteKeyFile(path, pair); err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", path, pair.Public.String())
	}
	return nil
}
