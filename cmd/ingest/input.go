package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// eachRecord calls fn for every raw record in r, which holds either one
// JSON array of records or one record per line.
func eachRecord(r io.Reader, fn func(raw json.RawMessage) error) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}

	if first == '[' {
		var all []json.RawMessage
		if err := json.NewDecoder(br).Decode(&all); err != nil {
			return fmt.Errorf("decode array: %w", err)
		}
		for _, raw := range all {
			if err := fn(raw); err != nil {
				return err
			}
		}
		return nil
	}

	// JSONL: a broken line is passed through so the caller can count it
	// as malformed instead of aborting the whole input.
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(append(json.RawMessage(nil), line...)); err != nil {
			return err
		}
	}
	return sc.Err()
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
