// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command nafll-sql dumps board descriptions from the NAFLL database.
//
// Without -board, nafll-sql lists the boards described in the database.
// With -board, the latest description of that board is written as JSON.
package main // import "github.com/go-lpc/nafll/cmd/nafll-sql"

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/nafll/conddb"
)

func main() {
	log.SetPrefix("nafll-sql: ")
	log.SetFlags(0)

	var (
		dbname = flag.String("db", "nafll", "name of the NAFLL database")
		board  = flag.String("board", "", "board description to dump")
		oname  = flag.String("o", "", "path to output file (default: stdout)")
	)

	flag.Parse()

	db, err := conddb.Open(*dbname)
	if err != nil {
		log.Fatalf("could not open NAFLL db: %+v", err)
	}
	defer db.Close()

	var w io.Writer = os.Stdout
	if *oname != "" {
		f, err := os.Create(*oname)
		if err != nil {
			log.Fatalf("could not create output file: %+v", err)
		}
		defer f.Close()
		w = f
	}

	err = doQuery(db, w, *board)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}

	if f, ok := w.(*os.File); ok && f != os.Stdout {
		err = f.Close()
		if err != nil {
			log.Fatalf("could not close output file: %+v", err)
		}
	}
}

type querier interface {
	Boards(ctx context.Context) ([]string, error)
	Board(ctx context.Context, name string) (*conddb.Board, error)
}

func doQuery(db querier, w io.Writer, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if name == "" {
		names, err := db.Boards(ctx)
		if err != nil {
			return fmt.Errorf("could not list boards: %w", err)
		}
		for _, name := range names {
			fmt.Fprintf(w, "%s\n", name)
		}
		return nil
	}

	brd, err := db.Board(ctx, name)
	if err != nil {
		return fmt.Errorf("could not get board %q: %w", name, err)
	}
	log.Printf("board %q: rails=%d, curves=%d, nafll=%d",
		brd.Name, len(brd.Rails), len(brd.Curves), len(brd.NAFLLs),
	)

	return dump(w, brd)
}

func dump(w io.Writer, brd *conddb.Board) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(brd)
	if err != nil {
		return fmt.Errorf("could not encode board %q: %w", brd.Name, err)
	}
	return nil
}
