// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail alerts when programming a NAFLL fails.
package alert // import "github.com/go-lpc/nafll/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mail "gopkg.in/gomail.v2"
)

// MaxAlerts is the number of alerts sent per device.
const MaxAlerts = 5

// Mailer sends alerts by mail.
type Mailer struct {
	app string
	msg *log.Logger

	usr  string
	pwd  string
	srv  string
	port int
	tgts []string

	mu   sync.Mutex
	sent map[string]int

	send func(msgs ...*mail.Message) error
}

// FromEnv creates a mailer configured from the MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment
// variables.
func FromEnv(app string, msg *log.Logger) *Mailer {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	var tgts []string
	for _, tgt := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		if tgt = strings.TrimSpace(tgt); tgt != "" {
			tgts = append(tgts, tgt)
		}
	}
	return New(app, msg, os.Getenv("MAIL_USERNAME"), os.Getenv("MAIL_PASSWORD"), os.Getenv("MAIL_SERVER"), port, tgts)
}

// New creates a mailer sending alerts through the provided SMTP server.
func New(app string, msg *log.Logger, usr, pwd, srv string, port int, tgts []string) *Mailer {
	if msg == nil {
		msg = log.New(os.Stdout, "alert: ", 0)
	}
	m := &Mailer{
		app:  app,
		msg:  msg,
		usr:  usr,
		pwd:  pwd,
		srv:  srv,
		port: port,
		tgts: tgts,
		sent: make(map[string]int),
	}
	m.send = func(msgs ...*mail.Message) error {
		dial := mail.NewDialer(m.srv, m.port, m.usr, m.pwd)
		dial.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		return dial.DialAndSend(msgs...)
	}
	return m
}

func (m *Mailer) valid() bool {
	return m.usr != "" && m.pwd != "" && m.srv != "" && m.port != 0 && len(m.tgts) != 0
}

// Alert sends an alert about a failure of dev.
// At most MaxAlerts alerts are sent per device.
func (m *Mailer) Alert(dev string, err error) {
	if !m.valid() {
		m.msg.Printf("could not send mail alert: missing credentials")
		return
	}

	m.mu.Lock()
	m.sent[dev]++
	n := m.sent[dev]
	m.mu.Unlock()

	if n > MaxAlerts {
		return
	}

	e := m.message(dev, err, time.Now().UTC())
	if err := m.send(e); err != nil {
		m.msg.Printf("could not send mail alert: %+v", err)
	}
}

func (m *Mailer) message(dev string, err error, now time.Time) *mail.Message {
	msg := mail.NewMessage()
	msg.SetHeader("From", m.usr)
	msg.SetHeader("Bcc", m.tgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[%s] NAFLL alert: %q", m.app, dev))
	msg.SetBody("text/plain", fmt.Sprintf("device: %q\ntime:   %v\nerror:  %+v",
		dev, now.Format(time.RFC3339), err,
	))
	return msg
}
