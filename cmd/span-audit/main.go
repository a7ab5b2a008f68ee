// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// span-audit inspects a Result Cache archive (a .span/.span2/.span3
// file produced by span/cache) and prints its information.json and
// model.json contents as a JSON stream on stdout, the same audit role
// the teacher's audit-ins-db command played for BLAST result stores.
package main

import (
	"archive/tar"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	path := flag.String("archive", "", "specify archive file to audit (must end in .span, .span2 or .span3)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), `Usage of %[1]s:
  $ %[1]s -archive <run.span>

Options:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	base := filepath.Base(*path)
	switch {
	case strings.HasSuffix(base, ".span"), strings.HasSuffix(base, ".span2"), strings.HasSuffix(base, ".span3"):
	default:
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	enc := json.NewEncoder(os.Stdout)
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		switch hdr.Name {
		case "information.json", "model.json":
			var v map[string]any
			if err := json.NewDecoder(tr).Decode(&v); err != nil {
				log.Fatal(err)
			}
			if err := enc.Encode(map[string]any{"entry": hdr.Name, "contents": v}); err != nil {
				log.Fatal(err)
			}
		case "null.npz":
			if err := enc.Encode(map[string]any{"entry": hdr.Name, "bytes": hdr.Size}); err != nil {
				log.Fatal(err)
			}
		}
	}
}
