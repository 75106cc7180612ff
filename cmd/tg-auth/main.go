// Command tg-auth creates the user session the cloner reads from.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/gotd/td/session/tdesktop"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tg-cloner/internal/config"
	"github.com/blockedby/tg-cloner/internal/logger"
	"github.com/blockedby/tg-cloner/internal/telegram"
)

type authMethod int

const (
	methodDesktop authMethod = iota + 1
	methodPhone
	methodQR
)

func main() {
	fmt.Println("=== telegram auth tool ===")
	fmt.Println("this tool creates the user session used by the cloner")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	if err := promptCredentials(cfg, reader, os.Stdout); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}

	// try to detect telegram desktop
	tdataPath := desktopPath(runtime.GOOS, os.Getenv("APPDATA"))
	accounts, tdataErr := tdesktop.Read(tdataPath, nil)

	// if default path failed, try asking user
	if tdataErr != nil || len(accounts) == 0 {
		fmt.Printf("telegram desktop not found at %s\n", tdataPath)
		fmt.Print("enter telegram desktop path (or press enter to skip): ")
		customPath := readLine(reader)

		if customPath != "" {
			customPath = withTData(customPath)
			accounts, tdataErr = tdesktop.Read(customPath, nil)
			if tdataErr == nil && len(accounts) > 0 {
				tdataPath = customPath
			}
		}
	}
	hasDesktop := tdataErr == nil && len(accounts) > 0

	fmt.Println()
	if hasDesktop {
		fmt.Printf("detected %d telegram desktop session(s) at: %s\n", len(accounts), tdataPath)
		fmt.Println("  1. use telegram desktop session (recommended)")
	}
	fmt.Println("  2. authenticate with phone number (sms/code)")
	fmt.Println("  3. scan a QR code from the telegram app")
	fmt.Printf("\nenter choice [%d]: ", defaultMethod(hasDesktop))
	method := parseMethod(readLine(reader), hasDesktop)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch method {
	case methodQR:
		err = authWithQR(ctx, *cfg, os.Stdout)
		if err == nil {
			fmt.Println("\n✓ authentication successful!")
			fmt.Printf("session saved to %s\n", sessionLocation(*cfg))
			fmt.Println("the cloner will pick it up automatically")
			return
		}
	default:
		var client *gotgproto.Client
		if method == methodDesktop {
			client, err = authWithTData(*cfg, accounts, reader)
		} else {
			client, err = authWithPhone(*cfg, reader)
		}
		if err == nil {
			defer client.Stop()
			err = printSession(client, *cfg, method == methodPhone)
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\ncanceled")
		} else {
			fmt.Printf("error: %v\n", err)
		}
		os.Exit(1)
	}
}

// desktopPath returns the default Telegram Desktop data directory.
func desktopPath(goos, appData string) string {
	home, _ := os.UserHomeDir()
	switch goos {
	case "windows":
		return filepath.Join(appData, "Telegram Desktop", "tdata")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Telegram Desktop", "tdata")
	default: // linux
		return filepath.Join(home, ".local", "share", "TelegramDesktop", "tdata")
	}
}

// withTData appends the tdata folder when the path points at its parent.
func withTData(path string) string {
	if filepath.Base(filepath.Clean(path)) == "tdata" {
		return path
	}
	return filepath.Join(path, "tdata")
}

func defaultMethod(hasDesktop bool) authMethod {
	if hasDesktop {
		return methodDesktop
	}
	return methodPhone
}

func parseMethod(choice string, hasDesktop bool) authMethod {
	switch strings.TrimSpace(choice) {
	case "1":
		if hasDesktop {
			return methodDesktop
		}
	case "2":
		return methodPhone
	case "3":
		return methodQR
	}
	return defaultMethod(hasDesktop)
}

// promptCredentials fills in api_id and api_hash when the environment
// did not provide them.
func promptCredentials(cfg *config.Config, reader *bufio.Reader, out io.Writer) error {
	if cfg.APIID == 0 {
		fmt.Fprint(out, "enter your api_id (from https://my.telegram.org): ")
		id, err := strconv.Atoi(readLine(reader))
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid api_id: %w", errors.Join(err, config.ErrAPIIDRequired))
		}
		cfg.APIID = id
	}
	if cfg.APIHash == "" {
		fmt.Fprint(out, "enter your api_hash: ")
		cfg.APIHash = readLine(reader)
		if cfg.APIHash == "" {
			return config.ErrAPIHashRequired
		}
	}
	return nil
}

func readLine(reader *bufio.Reader) string {
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// authWithTData authenticates using Telegram Desktop session
func authWithTData(cfg config.Config, accounts []tdesktop.Account, reader *bufio.Reader) (*gotgproto.Client, error) {
	idx := 0
	if len(accounts) == 1 {
		fmt.Println("\nusing the only available account")
	} else {
		fmt.Printf("\nfound %d telegram accounts:\n", len(accounts))
		for i := range accounts {
			fmt.Printf("  %d. account #%d\n", i+1, i+1)
		}
		fmt.Print("\nselect account number [1]: ")
		idx = pickAccount(readLine(reader), len(accounts))
	}

	fmt.Println("\nauthenticating with telegram desktop session...")

	return gotgproto.NewClient(
		cfg.APIID,
		cfg.APIHash,
		gotgproto.ClientTypePhone(""), // empty = use session
		&gotgproto.ClientOpts{
			Session:          sessionMaker.TdataSession(accounts[idx]).Name("tdata_session"),
			InMemory:         true,
			DisableCopyright: true,
		},
	)
}

// pickAccount maps a 1-based choice to an index, falling back to the first.
func pickAccount(choice string, n int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(choice)); err == nil && v >= 1 && v <= n {
		return v - 1
	}
	return 0
}

// authWithPhone authenticates using phone number (SMS/code). The session is
// written straight into the user session store.
func authWithPhone(cfg config.Config, reader *bufio.Reader) (*gotgproto.Client, error) {
	fmt.Print("enter your phone number (with country code, e.g. +1234567890): ")
	phone := readLine(reader)

	fmt.Println("\nauthenticating... (check telegram for code)")

	return gotgproto.NewClient(
		cfg.APIID,
		cfg.APIHash,
		gotgproto.ClientTypePhone(phone),
		&gotgproto.ClientOpts{
			Session:          sessionMaker.SqlSession(telegram.SessionDialector(cfg, telegram.SessionUser)),
			DisableCopyright: true,
		},
	)
}

func authWithQR(ctx context.Context, cfg config.Config, out io.Writer) error {
	m := telegram.NewManager(cfg)
	defer m.Stop()

	fmt.Fprintln(out, "\nopen telegram > settings > devices > link desktop device and scan:")
	return m.StartQR(ctx, func(url string) {
		logger.Get().Debug().Str("url", url).Msg("new QR token")
		qrterminal.GenerateHalfBlock(url, qrterminal.L, out)
	})
}

func printSession(client *gotgproto.Client, cfg config.Config, stored bool) error {
	sessionString, err := client.ExportStringSession()
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}

	fmt.Println("\n✓ authentication successful!")
	if client.Self != nil {
		fmt.Printf("logged in as: @%s\n", client.Self.Username)
	}
	fmt.Println("\nyour session string:")
	fmt.Println("---")
	fmt.Println(sessionString)
	fmt.Println("---")
	fmt.Println("\nadd this to your .env file as TELEGRAM_SESSION_STRING")
	if stored {
		fmt.Printf("or keep using the session stored in %s\n", sessionLocation(cfg))
	}
	fmt.Println("\n⚠️  keep this secret! it provides full access to your telegram account")
	return nil
}

func sessionLocation(cfg config.Config) string {
	if cfg.SessionDBURL != "" {
		return "SESSION_DATABASE_URL"
	}
	return telegram.SessionFile(cfg, telegram.SessionUser)
}
