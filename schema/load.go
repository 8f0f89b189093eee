// Copyright (c) 2025 ToeiRei
// Cipherbun - encrypted SQLite open helper for the Bun ORM
// This source code is licensed under the MIT license found in the LICENSE file.

package schema

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

// configFile is the on-disk shape of a schema-config document.
type configFile struct {
	Tables []Table `yaml:"tables"`
}

// Load parses schema config from r and registers every table it
// defines. Gzip-compressed streams are detected by magic bytes and
// decompressed transparently. The caller owns closing r.
func Load(r io.Reader) error {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("open gzip schema config: %w", err)
		}
		defer func() { _ = gz.Close() }()
		return decode(gz)
	}
	return decode(br)
}

// LoadFile parses the schema-config file at path. The file is closed
// whatever the parse outcome; the close error is swallowed.
func LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open schema config: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

func decode(r io.Reader) error {
	var cfg configFile
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty document registers nothing.
			return nil
		}
		return fmt.Errorf("parse schema config: %w", err)
	}
	for _, t := range cfg.Tables {
		if t.Entity == "" || t.Table == "" {
			return fmt.Errorf("schema config entry missing entity or table name")
		}
		Register(t)
	}
	return nil
}
