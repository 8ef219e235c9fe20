//go:build ignore

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/muurk/greehp/internal/protocol"
)

// Decodes captured heat pump datagrams, one JSON envelope per line.
//
//	go run tools/decode-pack.go capture.jsonl
//	go run tools/decode-pack.go -key 'Xy12...' capture.jsonl
//
// Packs are tried with -key first, then with the well-known key, so bind
// traffic and session traffic can be mixed in one capture.
func main() {
	key := flag.String("key", "", "Session key (16 bytes)")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: decode-pack [-key <session key>] <capture-file>")
		fmt.Println("Reads one JSON envelope per line, '-' for stdin")
		os.Exit(1)
	}

	in := os.Stdin
	if name := flag.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			fmt.Printf("Error opening file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	keys := []string{protocol.WellKnownKey}
	if *key != "" {
		keys = []string{*key, protocol.WellKnownKey}
	}

	fmt.Printf("=== Gree Pack Decoder ===\n\n")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, protocol.MaxDatagramSize), 64*1024)
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++
		decodeLine(n, []byte(line), keys)
	}
	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Decoded %d envelope(s)\n", n)
}

func decodeLine(n int, line []byte, keys []string) {
	fmt.Printf("--- Envelope %d ---\n", n)

	reply, err := protocol.ParseReply(line)
	if err != nil {
		fmt.Printf("  %s\n\n", protocol.ShortMessage(err))
		return
	}
	fmt.Printf("  t=%s cid=%s tcid=%s\n", reply.T, reply.CID, reply.TCID)

	for _, k := range keys {
		c, err := protocol.NewCipher(k)
		if err != nil {
			fmt.Printf("  Invalid key: %v\n\n", err)
			return
		}
		plain, err := c.Open(reply.Pack)
		if err != nil || !json.Valid(plain) {
			continue
		}

		label := "session key"
		if k == protocol.WellKnownKey {
			label = "well-known key"
		}
		var pretty map[string]any
		_ = json.Unmarshal(plain, &pretty)
		out, _ := json.MarshalIndent(pretty, "  ", "  ")
		fmt.Printf("  Decrypted with %s:\n  %s\n\n", label, out)
		return
	}

	fmt.Printf("  Pack could not be decrypted with any key\n\n")
}
