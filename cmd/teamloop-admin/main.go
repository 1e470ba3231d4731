package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/teamloop/teamloop/auth"
	"github.com/teamloop/teamloop/config"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/types"
)

// A very simple CLI tool for the administration of teamloop users, chats and
// code sessions.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	st, err := store.NewStore(cfg)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	ctx := context.Background()

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show users, chats or sessions",
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all known users.`,
		Run: func(cmd *cobra.Command, args []string) {
			users, err := st.GetUsers(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			printJSON(users)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user, err := st.GetUser(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdShowChats = &cobra.Command{
		Use:   "chats [user id]",
		Short: "Show chats of a user",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			chats, err := st.GetChatsForUser(ctx, args[0], 1, 1000)
			if err != nil {
				globals.AppLogger.Error("could not get chats", "error", err)
				return
			}
			printJSON(chats)
		},
	}
	var cmdShowSessions = &cobra.Command{
		Use:   "sessions [user id]",
		Short: "Show code sessions of a user",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sessions, err := st.GetSessionsForUser(ctx, args[0], 1, 1000)
			if err != nil {
				globals.AppLogger.Error("could not get sessions", "error", err)
				return
			}
			printJSON(sessions)
		},
	}
	var cmdShowStats = &cobra.Command{
		Use:   "stats",
		Short: "Show code session statistics",
		Run: func(cmd *cobra.Command, args []string) {
			stats, err := st.SessionStats(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get stats", "error", err)
				return
			}
			printJSON(stats)
		},
	}

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete a user or session",
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := st.DeleteUser(ctx, args[0]); err != nil {
				globals.AppLogger.Error("could not delete user", "error", err)
			}
		},
	}
	var cmdDeleteSession = &cobra.Command{
		Use:   "session [session id]",
		Short: "Delete code session",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := st.DeleteSession(ctx, args[0]); err != nil {
				globals.AppLogger.Error("could not delete session", "error", err)
			}
		},
	}

	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "Create or update a user",
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [user definition]",
		Short: "Set user",
		Long:  `set user creates or updates a user with the given JSON definition. If the definition is "-", it is read from STDIN.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			user := types.User{}
			if err := json.NewDecoder(r).Decode(&user); err != nil {
				globals.AppLogger.Error("could not decode user", "error", err)
				return
			}
			if user.Id == "" {
				globals.AppLogger.Error("no user id")
				return
			}
			if err := st.StoreUser(ctx, &user); err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
		},
	}

	var mintWrapped bool
	var mintTTL int64
	var cmdMintToken = &cobra.Command{
		Use:   "mint-token [user id]",
		Short: "Mint a bearer token for a user",
		Long:  `mint-token signs a bearer token for the given user id with the configured JWT secret. With --wrapped the token is additionally encrypted with the token unwrap key.`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if cfg.AuthConfig.JWTSecret == "" {
				globals.AppLogger.Error("no jwt secret configured")
				return
			}
			token, err := auth.SignJWT(args[0], cfg.AuthConfig.JWTSecret, mintTTL, time.Now().Unix())
			if err != nil {
				globals.AppLogger.Error("could not sign token", "error", err)
				return
			}
			if mintWrapped {
				if cfg.AuthConfig.TokenUnwrapKey == "" {
					globals.AppLogger.Error("no token unwrap key configured")
					return
				}
				nonce := make([]byte, 12)
				if _, err := rand.Read(nonce); err != nil {
					globals.AppLogger.Error("could not generate nonce", "error", err)
					return
				}
				token, err = auth.Wrap(token, cfg.AuthConfig.TokenUnwrapKey, nonce)
				if err != nil {
					globals.AppLogger.Error("could not wrap token", "error", err)
					return
				}
			}
			fmt.Println(token)
		},
	}
	cmdMintToken.Flags().BoolVar(&mintWrapped, "wrapped", false, "encrypt the token with the token unwrap key")
	cmdMintToken.Flags().Int64Var(&mintTTL, "ttl", 86400, "token lifetime in seconds")

	var rootCmd = &cobra.Command{Use: "teamloop-admin"}
	rootCmd.AddCommand(cmdShow, cmdDelete, cmdSet, cmdMintToken)
	cmdShow.AddCommand(cmdShowUsers, cmdShowUser, cmdShowChats, cmdShowSessions, cmdShowStats)
	cmdDelete.AddCommand(cmdDeleteUser, cmdDeleteSession)
	cmdSet.AddCommand(cmdSetUser)
	rootCmd.Execute()
}

func printJSON(v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		globals.AppLogger.Error("could not marshal", "error", err)
		return
	}
	fmt.Println(string(out))
}
