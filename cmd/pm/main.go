package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/awnumar/memguard"
	"golang.org/x/term"

	"github.com/Hussein-Mazeh/passvault/auth"
	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/internal/logger"
	"github.com/Hussein-Mazeh/passvault/internal/service"
	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

const cliVersion = "0.2.0"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	memguard.CatchInterrupt()
	code := run(os.Args[1:])
	memguard.Purge()
	os.Exit(code)
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 1
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	switch args[0] {
	case "version":
		fmt.Println(cliVersion)
		return 0
	case "init":
		err = runInit(ctx, cfg, log, args[1:])
	case "register":
		err = runRegister(ctx, cfg, log, args[1:])
	case "add":
		err = runAdd(ctx, cfg, log, args[1:])
	case "get":
		err = runGet(ctx, cfg, log, args[1:])
	case "list":
		err = runList(ctx, cfg, log, args[1:])
	case "delete":
		err = runDelete(ctx, cfg, log, args[1:])
	case "passwd":
		err = runPasswd(ctx, cfg, log, args[1:])
	case "session":
		err = runSession(ctx, cfg, log, args[1:])
	default:
		printUsage()
		return 1
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		return 1
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	return 2
}

// commandFlags holds the flags shared by every subcommand.
type commandFlags struct {
	fs      *flag.FlagSet
	dir     string
	user    string
	account string
}

func newCommandFlags(name string, cfg *config.Config, withUser, withAccount bool) *commandFlags {
	c := &commandFlags{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.SetOutput(io.Discard)
	c.fs.StringVar(&c.dir, "dir", cfg.DataDir, "vault data directory")
	if withUser {
		c.fs.StringVar(&c.user, "user", "", "vault username")
	}
	if withAccount {
		c.fs.StringVar(&c.account, "account", "", "account name")
	}
	return c
}

func (c *commandFlags) parse(args []string) error {
	if err := c.fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if c.fs.NArg() != 0 {
		return userError{msg: "unexpected positional arguments"}
	}
	if c.dir == "" {
		return userError{msg: "missing required flag: --dir"}
	}
	if c.fs.Lookup("user") != nil && c.user == "" {
		return userError{msg: "missing required flag: --user"}
	}
	if c.fs.Lookup("account") != nil && c.account == "" {
		return userError{msg: "missing required flag: --account"}
	}
	return nil
}

func openService(ctx context.Context, cfg *config.Config, log *logger.Logger, dir string) (*service.Service, error) {
	local := *cfg
	local.DataDir = dir
	svc, err := service.New(ctx, &local, log)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	return svc, nil
}

func runInit(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("init", cfg, false, false)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := openService(ctx, cfg, log, flags.dir)
	if err != nil {
		return err
	}
	defer svc.Close()

	existed, err := svc.Initialized()
	if err != nil {
		return describe(err)
	}
	if err := svc.Init(); err != nil {
		return describe(err)
	}
	if existed {
		fmt.Printf("vault already initialised in %s\n", svc.Dir())
		return nil
	}
	fmt.Printf("vault ready in %s\n", svc.Dir())
	return nil
}

func runRegister(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("register", cfg, true, false)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := openService(ctx, cfg, log, flags.dir)
	if err != nil {
		return err
	}
	defer svc.Close()

	pw, err := promptConfirmed("Enter master password: ", "Confirm master password: ", false)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(pw)

	if _, err := svc.Register(ctx, flags.user, pw); err != nil {
		return describe(err)
	}
	fmt.Printf("registered user %s\n", flags.user)
	return nil
}

// unlocked opens the vault for the --user flag, prompting for the master password.
func unlocked(ctx context.Context, cfg *config.Config, log *logger.Logger, flags *commandFlags) (*service.Service, error) {
	svc, err := openService(ctx, cfg, log, flags.dir)
	if err != nil {
		return nil, err
	}

	pw, err := promptPassword("Enter master password: ")
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("read master password: %w", err)
	}
	defer memguard.WipeBytes(pw)

	if err := svc.Unlock(ctx, flags.user, pw); err != nil {
		svc.Close()
		return nil, describe(err)
	}
	return svc, nil
}

func runAdd(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("add", cfg, true, true)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := unlocked(ctx, cfg, log, flags)
	if err != nil {
		return err
	}
	defer svc.Close()

	return addSecret(ctx, svc, flags.account)
}

func runGet(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("get", cfg, true, true)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := unlocked(ctx, cfg, log, flags)
	if err != nil {
		return err
	}
	defer svc.Close()

	return printSecret(ctx, svc, flags.account)
}

func runList(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("list", cfg, true, false)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := unlocked(ctx, cfg, log, flags)
	if err != nil {
		return err
	}
	defer svc.Close()

	return printAccounts(ctx, svc)
}

func runDelete(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("delete", cfg, true, true)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := unlocked(ctx, cfg, log, flags)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Delete(ctx, flags.account); err != nil {
		return describe(err)
	}
	fmt.Printf("deleted %s\n", flags.account)
	return nil
}

func runPasswd(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("passwd", cfg, true, false)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := openService(ctx, cfg, log, flags.dir)
	if err != nil {
		return err
	}
	defer svc.Close()

	oldPw, err := promptPassword("Old master password: ")
	if err != nil {
		return fmt.Errorf("read old master password: %w", err)
	}
	defer memguard.WipeBytes(oldPw)

	if err := svc.Unlock(ctx, flags.user, oldPw); err != nil {
		return describe(err)
	}

	newPw, err := promptConfirmed("New master password: ", "Confirm new master password: ", false)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(newPw)

	if err := svc.ChangeMaster(ctx, oldPw, newPw); err != nil {
		return describe(err)
	}
	fmt.Printf("master password changed for user %s\n", flags.user)
	return nil
}

func runSession(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	flags := newCommandFlags("session", cfg, true, false)
	if err := flags.parse(args); err != nil {
		return err
	}

	svc, err := unlocked(ctx, cfg, log, flags)
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println("session unlocked; type 'help' for commands")
	return sessionLoop(ctx, svc, os.Stdin)
}

func sessionLoop(ctx context.Context, svc *service.Service, in io.Reader) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Printf("pm(%s)> ", svc.Username())
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Println()
			return nil
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, rest := fields[0], fields[1:]

		var err error
		switch cmd {
		case "help":
			printSessionHelp()
		case "add":
			err = withAccount(rest, func(account string) error { return addSecret(ctx, svc, account) })
		case "get":
			err = withAccount(rest, func(account string) error { return printSecret(ctx, svc, account) })
		case "delete":
			err = withAccount(rest, func(account string) error {
				if err := svc.Delete(ctx, account); err != nil {
					return describe(err)
				}
				fmt.Printf("deleted %s\n", account)
				return nil
			})
		case "list":
			err = printAccounts(ctx, svc)
		case "lock", "exit", "quit":
			return nil
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		}
		handleSessionError(err)
	}
}

func withAccount(args []string, fn func(account string) error) error {
	if len(args) != 1 {
		return userError{msg: "expected exactly one account name"}
	}
	return fn(args[0])
}

func addSecret(ctx context.Context, svc *service.Service, account string) error {
	secret, err := promptConfirmed("Secret: ", "Confirm: ", true)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(secret)

	if err := svc.Add(ctx, account, string(secret)); err != nil {
		return describe(err)
	}
	fmt.Printf("stored secret for %s\n", account)
	return nil
}

func printSecret(ctx context.Context, svc *service.Service, account string) error {
	secret, err := svc.Get(ctx, account)
	if err != nil {
		return describe(err)
	}
	fmt.Printf("%s: %s\n", account, secret)
	return nil
}

func printAccounts(ctx context.Context, svc *service.Service) error {
	accounts, err := svc.List(ctx)
	if err != nil {
		return describe(err)
	}
	if len(accounts) == 0 {
		fmt.Fprintln(os.Stderr, "no secrets stored")
		return nil
	}
	for _, a := range accounts {
		fmt.Printf("%s\t%s\n", a.Name, a.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

// describe maps domain errors onto messages for the terminal.
func describe(err error) error {
	var policyErr *service.PolicyError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrInvalidCredentials):
		return userError{msg: "invalid username or master password"}
	case errors.Is(err, service.ErrNotInitialized):
		return userError{msg: err.Error()}
	case errors.Is(err, db.ErrUserExists):
		return userError{msg: "user already exists"}
	case errors.Is(err, db.ErrNotFound):
		return userError{msg: "no such account"}
	case errors.Is(err, vault.ErrLocked):
		return userError{msg: "vault is locked"}
	case errors.Is(err, auth.ErrBreached):
		return userError{msg: "password appears in a known data breach; choose another"}
	case errors.As(err, &policyErr):
		return userError{msg: "password does not meet policy requirements: " + policyErr.Err.Error()}
	case krypto.IsAuthentication(err):
		return userError{msg: "stored secret could not be authenticated; wrong key or tampered data"}
	case krypto.IsFormat(err):
		return userError{msg: "stored secret is corrupt"}
	case krypto.IsCorruptState(err):
		return userError{msg: "vault salt is corrupt; restore salt.bin from backup"}
	}
	return err
}

func handleSessionError(err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		return
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return pw, nil
}

// promptConfirmed reads a value twice without echo. Empty input is refused
// unless allowEmpty is set; stored secrets may be empty, master passwords not.
func promptConfirmed(prompt, confirmPrompt string, allowEmpty bool) ([]byte, error) {
	pw, err := promptPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}

	confirm, err := promptPassword(confirmPrompt)
	if err != nil {
		memguard.WipeBytes(pw)
		return nil, fmt.Errorf("read confirmation: %w", err)
	}
	defer memguard.WipeBytes(confirm)

	if !bytes.Equal(pw, confirm) {
		memguard.WipeBytes(pw)
		return nil, userError{msg: "passwords do not match"}
	}
	if len(pw) == 0 && !allowEmpty {
		return nil, userError{msg: "password cannot be empty"}
	}
	return pw, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: pm <command> [--dir <data-dir>]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  version")
	fmt.Fprintln(os.Stderr, "  init")
	fmt.Fprintln(os.Stderr, "  register --user <username>")
	fmt.Fprintln(os.Stderr, "  add      --user <username> --account <name>")
	fmt.Fprintln(os.Stderr, "  get      --user <username> --account <name>")
	fmt.Fprintln(os.Stderr, "  list     --user <username>")
	fmt.Fprintln(os.Stderr, "  delete   --user <username> --account <name>")
	fmt.Fprintln(os.Stderr, "  passwd   --user <username>")
	fmt.Fprintln(os.Stderr, "  session  --user <username>")
	fmt.Fprintf(os.Stderr, "The data directory defaults to $%sDATA_DIR or ./data.\n", config.Prefix)
}

func printSessionHelp() {
	fmt.Println("Commands:")
	fmt.Println("  add <account>")
	fmt.Println("  get <account>")
	fmt.Println("  delete <account>")
	fmt.Println("  list")
	fmt.Println("  lock | exit | quit")
}
