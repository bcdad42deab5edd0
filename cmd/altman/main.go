package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/altmanapp/altman/internal/accounts"
	"github.com/altmanapp/altman/internal/config"
	"github.com/altmanapp/altman/internal/crypto"
	"github.com/altmanapp/altman/internal/history"
	"github.com/altmanapp/altman/internal/logger"
	"github.com/altmanapp/altman/internal/roblox"
	"github.com/altmanapp/altman/internal/updater"
)

var (
	version   string
	buildDate string
)

func loadAccounts(opts *config.Options, l *logger.Logger) *accounts.Store {
	store := accounts.NewStore(filepath.Join(opts.DataDir, "accounts.json"), l.Log)
	if err := store.Load(); err != nil {
		log.Fatal(err)
	}
	return store
}

func pickAccount(store *accounts.Store, userID uint64) accounts.Account {
	if userID != 0 {
		acc, err := store.Get(userID)
		if err != nil {
			log.Fatalf("account %d: %v", userID, err)
		}
		return acc
	}
	list := store.List()
	if len(list) == 0 {
		log.Fatal("no accounts stored, add one with -cmd=add-account")
	}
	return list[0]
}

// main parses command-line flags and dispatches to the account, presence,
// social and updater commands.
func main() {
	var (
		cmd     string
		userID  uint64
		target  uint64
		cookie  string
		showVer bool
	)

	opts := config.Default()
	flag.StringVar(&cmd, "cmd", "", "command: add-account | accounts | status | presence | friends | keygen | update-check | update-download | rollback | history")
	flag.Uint64Var(&userID, "account", 0, "user id of the stored account to act as (default: first)")
	flag.Uint64Var(&target, "target", 0, "target user id for presence lookups")
	flag.StringVar(&cookie, "cookie", "", "session cookie for add-account")
	flag.StringVar(&opts.DataDir, "data", opts.DataDir, "data directory")
	flag.StringVar(&opts.LogLevel, "log", opts.LogLevel, "log level")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("AltMan\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	config.Parse(opts)

	l := logger.New()
	if err := l.Init(opts.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer l.Log.Sync()

	ctx := context.Background()
	client := roblox.NewClient(opts.HTTPTimeout(), l.Log)

	switch cmd {
	case "add-account":
		if cookie == "" {
			log.Fatal("please provide -cookie=<session cookie>")
		}
		store := loadAccounts(opts, l)
		id, username, displayName, err := client.AuthenticatedUser(ctx, cookie)
		if err != nil {
			log.Fatal(err)
		}
		acc := accounts.Account{
			UserID:      id,
			Username:    username,
			DisplayName: displayName,
			Cookie:      cookie,
			Status:      "OK",
		}
		if err := accounts.EnsureHBAKeys(&acc, l.Log); err != nil {
			log.Fatal(err)
		}
		store.Add(acc)
		if err := store.Save(); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Added account %s (%d)\n", acc.Username, acc.UserID)

	case "accounts":
		store := loadAccounts(opts, l)
		for _, a := range store.List() {
			fmt.Printf("%d\t%s\t%s\n", a.UserID, a.Username, a.Status)
		}

	case "status":
		store := loadAccounts(opts, l)
		acc := pickAccount(store, userID)
		status := client.CachedBanStatus(ctx, acc.Cookie)
		fmt.Printf("%s: %s\n", acc.Username, status)

	case "presence":
		if target == 0 {
			log.Fatal("please provide -target=<user id>")
		}
		store := loadAccounts(opts, l)
		acc := pickAccount(store, userID)
		session := roblox.NewSessionService(client, l.Log)
		fmt.Println(session.GetPresence(ctx, acc.Cookie, target))

	case "friends":
		store := loadAccounts(opts, l)
		acc := pickAccount(store, userID)
		social := roblox.NewSocialService(client, l.Log)
		friends, err := social.GetFriends(ctx, acc.UserID, acc.Cookie)
		if err != nil {
			log.Fatal(err)
		}
		session := roblox.NewSessionService(client, l.Log)
		var ids []uint64
		for _, f := range friends {
			ids = append(ids, f.ID)
		}
		presences := session.GetPresences(ctx, ids, acc.Cookie)
		for _, f := range friends {
			fmt.Printf("%d\t%s\t%s\n", f.ID, f.Username, presences[f.ID].Presence)
		}

	case "keygen":
		store := loadAccounts(opts, l)
		n := store.MigrateToHBA()
		if err := store.Save(); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated signing keys for %d account(s)\n", n)
		kp, err := crypto.GenerateKeyPair()
		if err == nil {
			fmt.Println(kp.PublicKeyPEM)
		}

	case "update-check":
		svc := newUpdater(opts, l)
		info, err := svc.CheckForUpdates(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if info == nil {
			fmt.Println("You're using the latest version!")
			return
		}
		b, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(b))

	case "update-download":
		svc := newUpdater(opts, l)
		info, err := svc.CheckForUpdates(ctx)
		if err != nil {
			log.Fatal(err)
		}
		if info == nil {
			fmt.Println("You're using the latest version!")
			return
		}
		path, err := svc.DownloadUpdate(ctx, info, printProgress)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("\nDownloaded %s to %s\n", info.Version, path)
		if err := svc.Install(path, info.Version); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)

	case "rollback":
		svc := newUpdater(opts, l)
		if err := svc.Installer().Rollback(); err != nil {
			log.Fatal(err)
		}
		os.Exit(0)

	case "history":
		repo, err := history.Open(ctx, filepath.Join(opts.DataDir, "history.db"))
		if err != nil {
			log.Fatal(err)
		}
		defer repo.Close()
		entries, err := repo.Recent(ctx, 20)
		if err != nil {
			log.Fatal(err)
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04"), e.Username, e.Kind, e.Detail)
		}

	default:
		log.Fatalf("unknown command: %s", cmd)
	}
}

func newUpdater(opts *config.Options, l *logger.Logger) *updater.Service {
	cfg := updater.NewConfig(filepath.Join(opts.DataDir, "updater.json"))
	if err := cfg.Load(); err != nil {
		log.Fatal(err)
	}
	svc := updater.NewService(cfg, opts.DataDir, appVersion(), nil, l.Log)

	switch svc.Installer().CheckInstallResult() {
	case updater.InstallSucceeded:
		fmt.Println("Update installed successfully")
	case updater.InstallFailed:
		fmt.Println("Last update failed and was rolled back from backup")
	}
	return svc
}

func appVersion() string {
	if version == "" {
		return "0.0.0-dev"
	}
	return strings.TrimPrefix(version, "v")
}

func printProgress(percentage int, bytesPerSecond, totalBytes uint64) {
	fmt.Printf("\rDownloading: %3d%% (%s/s of %s)", percentage, formatBytes(bytesPerSecond), formatBytes(totalBytes))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatUint(n, 10) + " B"
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
