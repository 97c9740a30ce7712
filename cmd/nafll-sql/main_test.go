// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-lpc/nafll/conddb"
)

type fakeDB struct {
	brds map[string]*conddb.Board
}

func (db fakeDB) Boards(ctx context.Context) ([]string, error) {
	return []string{"lpc-gpu0", "lpc-gpu1"}, nil
}

func (db fakeDB) Board(ctx context.Context, name string) (*conddb.Board, error) {
	brd, ok := db.brds[name]
	if !ok {
		return nil, fmt.Errorf("no board %q: %w", name, sql.ErrNoRows)
	}
	return brd, nil
}

func TestDoQuery(t *testing.T) {
	brd, err := conddb.LoadBoard("../../conddb/testdata/board.json")
	if err != nil {
		t.Fatalf("could not load board: %+v", err)
	}
	db := fakeDB{brds: map[string]*conddb.Board{brd.Name: brd}}

	t.Run("list", func(t *testing.T) {
		o := new(bytes.Buffer)
		err := doQuery(db, o, "")
		if err != nil {
			t.Fatalf("could not list boards: %+v", err)
		}
		if got, want := o.String(), "lpc-gpu0\nlpc-gpu1\n"; got != want {
			t.Fatalf("invalid output:\ngot:\n%s\nwant:\n%s", got, want)
		}
	})

	t.Run("board", func(t *testing.T) {
		o := new(bytes.Buffer)
		err := doQuery(db, o, brd.Name)
		if err != nil {
			t.Fatalf("could not dump board: %+v", err)
		}

		got, err := conddb.ReadBoard(o)
		if err != nil {
			t.Fatalf("could not read back board: %+v", err)
		}
		if got, want := got.Name, brd.Name; got != want {
			t.Fatalf("invalid name: got=%q, want=%q", got, want)
		}
		if got, want := len(got.Curves), len(brd.Curves); got != want {
			t.Fatalf("invalid curves: got=%d, want=%d", got, want)
		}
		if got, want := len(got.NAFLLs), len(brd.NAFLLs); got != want {
			t.Fatalf("invalid NAFLLs: got=%d, want=%d", got, want)
		}
		if got, want := got.Curves[0].CPMEquation, brd.Curves[0].CPMEquation; got != want {
			t.Fatalf("invalid CPM equation: got=%d, want=%d", got, want)
		}

		_, _, err = got.Setup()
		if err != nil {
			t.Fatalf("could not setup dumped board: %+v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		err := doQuery(db, new(bytes.Buffer), "lpc-gpu9")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, sql.ErrNoRows)
		}
	})
}
