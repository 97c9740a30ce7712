// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the clock hardware of a board,
// and to retrieve and record them from the condition database.
package conddb // import "github.com/go-lpc/nafll/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/nafll/fll"
	"github.com/go-sql-driver/mysql"
)

var (
	usr  = getenv("NAFLL_DB_USER", "nafll")
	pwd  = getenv("NAFLL_DB_PASS", "s3cr3t")
	host = getenv("NAFLL_DB_HOST", "localhost")

	drvName = "mysql"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// DB exposes convenience methods to retrieve board descriptions from,
// and record programming history into, the NAFLL database.
type DB struct {
	db   *sql.DB
	name string // name of the NAFLL database
}

// Open opens a connection to the NAFLL database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = host
	cfg.DBName = db
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Boards returns the names of the boards described in the database.
func (db *DB) Boards(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var names []string
	rows, err := db.db.QueryContext(ctx, "SELECT DISTINCT name FROM boards ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query boards: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not get board name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for boards: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving boards: %w", err)
	}

	return names, nil
}

// Board returns the latest description of the named board.
func (db *DB) Board(ctx context.Context, name string) (*Board, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		desc  string
		found = false
	)
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT description FROM boards WHERE name=? ORDER BY datetime DESC LIMIT 1",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not query board %q: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&desc)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not get board %q description: %w", name, err)
		}
		found = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conddb: could not scan db for board %q: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("conddb: context error while retrieving board %q: %w", name, err)
	}

	if !found {
		return nil, fmt.Errorf("conddb: no board %q: %w", name, sql.ErrNoRows)
	}

	brd, err := ReadBoard(strings.NewReader(desc))
	if err != nil {
		return nil, fmt.Errorf("conddb: invalid board %q description: %w", name, err)
	}
	if brd.Name == "" {
		brd.Name = name
	}
	return brd, nil
}

// Program is one entry of the programming history of a NAFLL.
type Program struct {
	Board     string
	NAFLL     string
	Regime    fll.Regime
	MHz       uint32
	PLDiv     uint8
	VoltageUV uint32
	Time      time.Time
}

// RecordProgram appends an entry to the programming history.
func (db *DB) RecordProgram(ctx context.Context, p Program) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if p.Time.IsZero() {
		p.Time = time.Now().UTC()
	}

	_, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO programs (board, nafll, regime, freq_mhz, pldiv, volt_uv, datetime)
VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		p.Board, p.NAFLL, p.Regime.String(), int64(p.MHz), int64(p.PLDiv), int64(p.VoltageUV), p.Time,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not record %q program: %w", p.NAFLL, err)
	}
	return nil
}
