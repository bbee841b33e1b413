// Command studyctl is a command-line client for the studydesk server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "studydesk")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "studydesk")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenSubject reads the user id from a stored token without verifying it;
// the server does the verification.
func tokenSubject(tok string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return "", err
	}
	id, err := u.FromString(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("token subject: %w", err)
	}
	return id.String(), nil
}

// ---- utils ----

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// roomPath maps -chat/-group flags to the REST prefix of the room.
func roomPath(chat, group string) (string, error) {
	switch {
	case chat != "" && group != "":
		return "", errors.New("use either -chat or -group")
	case chat != "":
		return "/api/direct-chats/" + url.PathEscape(chat), nil
	case group != "":
		return "/api/groups/" + url.PathEscape(group), nil
	}
	return "", errors.New("need -chat or -group")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, `studyctl CLI
Usage:
  studyctl -server URL <cmd> [args]

Commands:
  version
  register     -u <username> -p <password> [-name <display name>]
  login        -u <username> -p <password>             (saves token)
  me
  user         -id <uuid>
  chats
  open-chat    -user <uuid>
  groups
  create-group -name <name> [-desc <text>] [-members id,id]
  add-member   -group <uuid> -user <uuid>
  rm-member    -group <uuid> -user <uuid>
  history      -chat <uuid> | -group <uuid> [-limit n] [-before RFC3339]
  send         -chat <uuid> | -group <uuid> -text <text>
  rm           -chat | -group -id <message uuid>
  presence     -user <uuid>
  listen       [-chats id,id] [-groups id,id]           (prints socket events)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	// global flags
	server := flag.String("server", envOr("STUDYCTL_SERVER", "http://localhost:8080"), "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runCmd(ctx, *server, cmd, args); err != nil {
		fail(err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// authed returns a client carrying the saved token.
func authed(server string) (*client, error) {
	tok, err := loadToken()
	if err != nil {
		return nil, err
	}
	return newClient(server, tok), nil
}

func runCmd(ctx context.Context, server, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Printf("studyctl %s (%s)\n", version, buildDate)
		return nil
	case "register", "login":
		return authCmd(ctx, server, cmd, args)
	case "listen":
		return listenCmd(ctx, server, args)
	}

	c, err := authed(server)
	if err != nil {
		return err
	}
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var out any
	switch cmd {
	case "me":
		err = c.do(rctx, http.MethodGet, "/api/users/me", nil, &out)

	case "user", "presence":
		id := fs.String("id", "", "user id")
		fs.StringVar(id, "user", "", "user id")
		_ = fs.Parse(args)
		path := "/api/users/"
		if cmd == "presence" {
			path = "/api/presence/"
		}
		err = c.do(rctx, http.MethodGet, path+url.PathEscape(*id), nil, &out)

	case "chats":
		err = c.do(rctx, http.MethodGet, "/api/direct-chats", nil, &out)

	case "open-chat":
		peer := fs.String("user", "", "peer user id")
		_ = fs.Parse(args)
		err = c.do(rctx, http.MethodPost, "/api/direct-chats", map[string]string{"userId": *peer}, &out)

	case "groups":
		err = c.do(rctx, http.MethodGet, "/api/groups", nil, &out)

	case "create-group":
		name := fs.String("name", "", "group name")
		desc := fs.String("desc", "", "description")
		members := fs.String("members", "", "comma-separated member ids")
		_ = fs.Parse(args)
		body := map[string]any{"name": *name, "description": *desc, "memberIds": splitList(*members)}
		err = c.do(rctx, http.MethodPost, "/api/groups", body, &out)

	case "add-member", "rm-member":
		group := fs.String("group", "", "group id")
		user := fs.String("user", "", "user id")
		_ = fs.Parse(args)
		path := "/api/groups/" + url.PathEscape(*group) + "/members"
		if cmd == "add-member" {
			err = c.do(rctx, http.MethodPost, path, map[string]string{"userId": *user}, &out)
		} else {
			err = c.do(rctx, http.MethodDelete, path+"/"+url.PathEscape(*user), nil, nil)
			out = "ok"
		}

	case "history":
		chat := fs.String("chat", "", "direct chat id")
		group := fs.String("group", "", "group id")
		limit := fs.Int("limit", 0, "page size")
		before := fs.String("before", "", "RFC3339 cursor")
		_ = fs.Parse(args)
		path, perr := roomPath(*chat, *group)
		if perr != nil {
			return perr
		}
		q := url.Values{}
		if *limit > 0 {
			q.Set("limit", fmt.Sprint(*limit))
		}
		if *before != "" {
			q.Set("before", *before)
		}
		path += "/messages"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		err = c.do(rctx, http.MethodGet, path, nil, &out)

	case "send":
		chat := fs.String("chat", "", "direct chat id")
		group := fs.String("group", "", "group id")
		text := fs.String("text", "", "message text")
		_ = fs.Parse(args)
		path, perr := roomPath(*chat, *group)
		if perr != nil {
			return perr
		}
		err = c.do(rctx, http.MethodPost, path+"/messages", map[string]string{"text": *text}, &out)

	case "rm":
		chat := fs.Bool("chat", false, "direct chat message")
		group := fs.Bool("group", false, "group message")
		id := fs.String("id", "", "message id")
		_ = fs.Parse(args)
		prefix := "/api/direct-chats"
		if *group && !*chat {
			prefix = "/api/groups"
		}
		err = c.do(rctx, http.MethodDelete, prefix+"/messages/"+url.PathEscape(*id), nil, &out)

	default:
		usage()
	}
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func authCmd(ctx context.Context, server, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	user := fs.String("u", "", "username")
	pass := fs.String("p", "", "password")
	name := fs.String("name", "", "display name (register)")
	_ = fs.Parse(args)
	if *user == "" || *pass == "" {
		return errors.New("need -u and -p")
	}

	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	c := newClient(server, "")

	if cmd == "register" {
		var resp struct {
			UserID string `json:"userId"`
		}
		if err := c.do(rctx, http.MethodPost, "/api/auth/register",
			map[string]string{"username": *user, "password": *pass, "displayName": *name}, &resp); err != nil {
			return err
		}
		fmt.Println(resp.UserID)
		return nil
	}

	var resp struct {
		AccessToken string    `json:"accessToken"`
		ExpiresAt   time.Time `json:"expiresAt"`
	}
	if err := c.do(rctx, http.MethodPost, "/api/auth/login",
		map[string]string{"username": *user, "password": *pass}, &resp); err != nil {
		return err
	}
	if err := saveToken(resp.AccessToken, resp.ExpiresAt); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func listenCmd(ctx context.Context, server string, args []string) error {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	chats := fs.String("chats", "", "direct chat ids to join")
	groups := fs.String("groups", "", "group ids to join")
	_ = fs.Parse(args)

	c, err := authed(server)
	if err != nil {
		return err
	}
	uid, err := tokenSubject(c.token)
	if err != nil {
		return err
	}
	return c.listen(ctx, uid, splitList(*chats), splitList(*groups), os.Stdout)
}

func fail(err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		fmt.Fprintf(os.Stderr, "api error: status=%d code=%s msg=%s\n", ae.Status, ae.Code, ae.Message)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
