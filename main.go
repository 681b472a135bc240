// Command jstore manages versioned mail stores: per-account databases with
// modseq change tracking, materialized threads, mailbox counters and blob
// storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mjl-/jstore/config"
	"github.com/mjl-/jstore/mlog"
	"github.com/mjl-/jstore/store"
)

var xlog = mlog.New("main")

var ctxbg = context.Background()

var commands = []struct {
	cmd string
	fn  func(c *cmd)
}{
	{"config describe", cmdConfigDescribe},
	{"init", cmdInit},
	{"setpassword", cmdSetpassword},
	{"state", cmdState},
	{"changes", cmdChanges},
	{"mailbox list", cmdMailboxList},
	{"mailbox add", cmdMailboxAdd},
	{"mailbox rm", cmdMailboxRemove},
	{"deliver", cmdDeliver},
	{"expirefiles", cmdExpirefiles},
}

type cmd struct {
	words []string
	fn    func(c *cmd)

	// Set by the command itself while running.
	params string
	help   string

	flag     *flag.FlagSet
	flagArgs []string
	args     []string
}

func (c *cmd) Parse() []string {
	c.flag.Usage = c.Usage
	c.flag.Parse(c.flagArgs)
	c.args = c.flag.Args()
	return c.args
}

func (c *cmd) Usage() {
	cs := "jstore " + strings.Join(c.words, " ")
	for i, line := range strings.Split(strings.TrimSpace(c.params), "\n") {
		s := ""
		if i == 0 {
			s = "usage:"
		}
		if line != "" {
			line = " " + line
		}
		fmt.Fprintf(os.Stderr, "%6s %s%s\n", s, cs, line)
	}
	c.flag.SetOutput(os.Stderr)
	c.flag.PrintDefaults()
	if c.help != "" {
		fmt.Fprint(os.Stderr, "\n"+c.help+"\n")
	}
	os.Exit(2)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jstore [-config jstore.conf] [-loglevel level] command ...")
	for _, c := range commands {
		fmt.Fprintln(os.Stderr, "       jstore "+c.cmd)
	}
	os.Exit(2)
}

func xcheckf(err error, format string, args ...any) {
	if err != nil {
		xlog.Fatalx(fmt.Sprintf(format, args...), err)
	}
}

var loglevel string

func mustLoadConfig() {
	config.MustLoad(config.ConfigPath)
	if loglevel != "" {
		level, ok := mlog.Levels[loglevel]
		if !ok {
			xlog.Fatal("unknown loglevel", mlog.Field("loglevel", loglevel))
		}
		mlog.SetConfig(map[string]mlog.Level{"": level})
	}
}

func xopen(name string) *store.Store {
	mustLoadConfig()
	s, err := store.OpenAccount(ctxbg, name)
	xcheckf(err, "opening account %s", name)
	return s
}

func xclose(s *store.Store) {
	err := s.Close()
	xlog.Check(err, "closing account store")
}

func main() {
	flag.StringVar(&config.ConfigPath, "config", "jstore.conf", "path to configuration file")
	flag.StringVar(&loglevel, "loglevel", "", "if non-empty, overrides the log level from the config file")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	// Longest matching command wins, so "mailbox add" beats "mailbox".
	var match *cmd
	for _, xc := range commands {
		words := strings.Split(xc.cmd, " ")
		if len(words) > len(args) || !slices.Equal(words, args[:len(words)]) {
			continue
		}
		if match == nil || len(words) > len(match.words) {
			match = &cmd{words: words, fn: xc.fn, flagArgs: args[len(words):]}
		}
	}
	if match == nil {
		usage()
	}
	match.flag = flag.NewFlagSet("jstore "+strings.Join(match.words, " "), flag.ExitOnError)
	match.fn(match)
}

func cmdConfigDescribe(c *cmd) {
	c.help = "Print an example configuration file."
	if len(c.Parse()) != 0 {
		c.Usage()
	}
	err := config.Describe(os.Stdout)
	xcheckf(err, "describing config")
}

func cmdInit(c *cmd) {
	c.params = "account"
	c.help = "Create the account store with its initial mailboxes, or do nothing if it exists."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)
	mbs, err := s.Mailboxes(ctxbg)
	xcheckf(err, "listing mailboxes")
	fmt.Printf("account %s at %s, %d mailboxes\n", s.Name, s.Dir, len(mbs))
}

func cmdSetpassword(c *cmd) {
	c.params = "account"
	c.help = "Set a new password for the account, read from stdin."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	buf, err := io.ReadAll(os.Stdin)
	xcheckf(err, "reading password from stdin")
	password := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
	s := xopen(args[0])
	defer xclose(s)
	err = s.SetPassword(ctxbg, password)
	xcheckf(err, "setting password")
}

func cmdState(c *cmd) {
	c.params = "account"
	c.help = "Print the published sync state per entity group."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)
	states, err := s.States(ctxbg)
	xcheckf(err, "reading states")
	groups := make([]string, 0, len(states))
	for g := range states {
		groups = append(groups, string(g))
	}
	slices.Sort(groups)
	for _, g := range groups {
		fmt.Printf("%s\t%d\n", g, states[store.Group(g)])
	}
}

func cmdChanges(c *cmd) {
	var since int64
	c.flag.Int64Var(&since, "since", 0, "print changes after this modseq")
	c.params = "[-since modseq] account"
	c.help = "Print messages, threads and mailboxes changed after the given modseq, tombstones included."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)

	msgs, err := store.ChangedSince[store.Message](ctxbg, s, store.ModSeq(since))
	xcheckf(err, "listing changed messages")
	for _, m := range msgs {
		fmt.Printf("message\t%d\t%s\tdeleted=%v\n", m.ModSeq, m.ID, m.Deleted)
	}
	threads, err := store.ChangedSince[store.Thread](ctxbg, s, store.ModSeq(since))
	xcheckf(err, "listing changed threads")
	for _, t := range threads {
		fmt.Printf("thread\t%d\t%s\tdeleted=%v\tmessages=%s\n", t.ModSeq, t.ID, t.Deleted, strings.Join(t.MessageIDs, ","))
	}
	mbs, err := store.ChangedSince[store.Mailbox](ctxbg, s, store.ModSeq(since))
	xcheckf(err, "listing changed mailboxes")
	for _, mb := range mbs {
		fmt.Printf("mailbox\t%d\t%s\t%s\tdeleted=%v\n", mb.ModSeq, mb.ID, mb.Name, mb.Deleted)
	}
}

func cmdMailboxList(c *cmd) {
	c.params = "account"
	c.help = "List live mailboxes with their counters."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)
	mbs, err := s.Mailboxes(ctxbg)
	xcheckf(err, "listing mailboxes")
	for _, mb := range mbs {
		fmt.Printf("%s\t%s\t%s\ttotal=%d unread=%d threads=%d unreadthreads=%d\n", mb.ID, mb.Name, mb.Role, mb.TotalEmails, mb.UnreadEmails, mb.TotalThreads, mb.UnreadThreads)
	}
}

func cmdMailboxAdd(c *cmd) {
	var role string
	c.flag.StringVar(&role, "role", "", "mailbox role, e.g. archive")
	c.params = "[-role role] account name"
	c.help = "Add a mailbox."
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)
	err := s.WithTx(ctxbg, func(tx *store.Tx) error {
		mb, err := tx.CreateMailbox(args[1], role, 0)
		if err == nil {
			fmt.Printf("%s\t%s\n", mb.ID, mb.Name)
		}
		return err
	})
	xcheckf(err, "creating mailbox")
}

func cmdMailboxRemove(c *cmd) {
	c.params = "account name"
	c.help = "Remove a mailbox. Its messages stay, in their other mailboxes."
	args := c.Parse()
	if len(args) != 2 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)
	err := s.WithTx(ctxbg, func(tx *store.Tx) error {
		mb, err := tx.MailboxByName(args[1])
		if err != nil {
			return err
		}
		return tx.DeleteMailbox(mb.ID)
	})
	xcheckf(err, "removing mailbox")
}

func cmdDeliver(c *cmd) {
	var backfill bool
	var mailbox string
	c.flag.BoolVar(&backfill, "backfill", false, "deliver without notifying observers, for imports of historical mail")
	c.flag.StringVar(&mailbox, "mailbox", "Inbox", "mailbox to deliver to")
	c.params = "[-backfill] [-mailbox name] account [file]"
	c.help = "Deliver a message, read from file or stdin, to a mailbox."
	args := c.Parse()
	if len(args) != 1 && len(args) != 2 {
		c.Usage()
	}

	var raw []byte
	var err error
	if len(args) == 2 {
		raw, err = os.ReadFile(args[1])
		xcheckf(err, "reading message file")
	} else {
		raw, err = io.ReadAll(os.Stdin)
		xcheckf(err, "reading message from stdin")
	}

	s := xopen(args[0])
	defer xclose(s)
	var tx *store.Tx
	if backfill {
		tx, err = s.BeginBackfill(ctxbg)
	} else {
		tx, err = s.Begin(ctxbg)
	}
	xcheckf(err, "begin transaction")
	mb, err := tx.MailboxByName(mailbox)
	if err != nil {
		xerr := tx.Rollback()
		xlog.Check(xerr, "rolling back")
		xcheckf(err, "resolving mailbox %s", mailbox)
	}
	msg, err := tx.ImportMessage(raw, []string{mb.ID}, nil)
	if err != nil {
		xerr := tx.Rollback()
		xlog.Check(xerr, "rolling back")
		xcheckf(err, "importing message")
	}
	err = tx.Commit()
	xcheckf(err, "commit")
	fmt.Printf("%s\t%s\n", msg.ID, msg.ThreadID)
}

func cmdExpirefiles(c *cmd) {
	c.params = "account"
	c.help = "Remove uploaded files whose expiry has passed."
	args := c.Parse()
	if len(args) != 1 {
		c.Usage()
	}
	s := xopen(args[0])
	defer xclose(s)
	n, err := s.ExpireFiles(ctxbg, time.Now())
	xcheckf(err, "expiring files")
	fmt.Printf("%d files removed\n", n)
}
