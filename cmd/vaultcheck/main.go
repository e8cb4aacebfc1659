// Command vaultcheck inspects a vault without the master password. It checks
// the salt file and the structure of every stored envelope, and can remove
// envelopes that are no longer well-formed. Envelopes carrying an unknown
// version byte are reported but never pruned.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/internal/logger"
	"github.com/Hussein-Mazeh/passvault/krypto"
	"github.com/Hussein-Mazeh/passvault/store"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logger.New(0).Fatal("load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	dir := flag.String("dir", cfg.DataDir, "vault data directory")
	prune := flag.Bool("prune", false, "delete malformed envelopes")
	flag.Parse()

	paths := store.Paths{Dir: *dir}
	ctx := context.Background()

	records, err := db.Open(ctx, paths.DatabasePath())
	if err != nil {
		log.Fatal("open vault database", "dir", *dir, "error", err)
	}
	defer records.Close()

	res, err := check(ctx, os.Stdout, store.NewSaltStore(paths), records, *prune)
	if err != nil {
		log.Fatal("check vault", "dir", *dir, "error", err)
	}
	log.Info("check finished", "database", records.Path(), "users", res.Users,
		"envelopes", res.Total, "malformed", res.Malformed, "unsupported", res.Unsupported, "pruned", res.Pruned)
	if res.Malformed > res.Pruned || res.Unsupported > 0 || !res.SaltOK {
		records.Close()
		os.Exit(1)
	}
}

// envelopeStore is the subset of *db.DB vaultcheck needs.
type envelopeStore interface {
	Path() string
	CountUsers(ctx context.Context) (int, error)
	Envelopes(ctx context.Context) ([]db.EnvelopeRow, error)
	DeleteSecret(ctx context.Context, userID int64, account string) error
}

type saltChecker interface {
	Exists() (bool, error)
	GetOrCreateSalt() ([]byte, error)
}

type report struct {
	SaltOK      bool
	Users       int
	Total       int
	Malformed   int
	Unsupported int
	Pruned      int
}

func check(ctx context.Context, out io.Writer, salts saltChecker, records envelopeStore, prune bool) (report, error) {
	var r report

	exists, err := salts.Exists()
	switch {
	case err != nil:
		fmt.Fprintf(out, "salt: %v\n", err)
	case !exists:
		fmt.Fprintln(out, "salt: missing; every stored envelope is unreadable")
	default:
		// The file exists, so this only reads and validates it.
		if _, err := salts.GetOrCreateSalt(); err != nil {
			fmt.Fprintf(out, "salt: %v\n", err)
		} else {
			r.SaltOK = true
			fmt.Fprintln(out, "salt: ok")
		}
	}

	users, err := records.CountUsers(ctx)
	if err != nil {
		return r, err
	}
	r.Users = users
	fmt.Fprintf(out, "database: %s (%d users)\n", records.Path(), users)

	rows, err := records.Envelopes(ctx)
	if err != nil {
		return r, err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no secrets stored")
		return r, nil
	}

	for _, row := range rows {
		r.Total++
		info, err := krypto.ParseEnvelope(row.Envelope)
		if err == nil {
			fmt.Fprintf(out, "%s/%s: v%#x sealed %s (%d bytes)\n",
				row.Username, row.Account, info.Version, info.SealedAt.UTC().Format(time.RFC3339), info.Size)
			continue
		}

		var verErr *krypto.UnsupportedVersionError
		if errors.As(err, &verErr) {
			// Sealed by another scheme; deleting it would destroy data we cannot read.
			r.Unsupported++
			fmt.Fprintf(out, "%s/%s: UNSUPPORTED VERSION %#x; kept\n", row.Username, row.Account, verErr.Version)
			continue
		}

		r.Malformed++
		fmt.Fprintf(out, "%s/%s: MALFORMED: %v\n", row.Username, row.Account, err)
		if !prune {
			continue
		}
		if err := records.DeleteSecret(ctx, row.UserID, row.Account); err != nil {
			return r, fmt.Errorf("prune %s/%s: %w", row.Username, row.Account, err)
		}
		r.Pruned++
	}

	fmt.Fprintf(out, "%d envelopes, %d malformed, %d unsupported, %d pruned\n", r.Total, r.Malformed, r.Unsupported, r.Pruned)
	return r, nil
}
