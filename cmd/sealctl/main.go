package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/helixcare/secrets-core/api"
	"github.com/helixcare/secrets-core/cmd/flags"
)

var serverURLFlag = &cli.StringFlag{
	Name:  "server",
	Value: "http://127.0.0.1:8200",
	Usage: "base URL of the secrets service",
}

var tokenFlag = &cli.StringFlag{
	Name:    "token",
	Usage:   "client token for authenticated operations",
	EnvVars: []string{"SECRETS_TOKEN"},
}

func clientFor(cCtx *cli.Context) *api.Client {
	client := api.NewClient(cCtx.String(serverURLFlag.Name))
	if token := cCtx.String(tokenFlag.Name); token != "" {
		client.SetToken(token)
	}
	return client
}

func printJSON(v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func main() {
	app := &cli.App{
		Name:  "sealctl",
		Usage: "Operate a secrets service: initialize, unseal, and inspect",
		Flags: []cli.Flag{serverURLFlag, tokenFlag, flags.LogJsonFlag, flags.LogDebugFlag},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "One-time initialization; prints base64 shares and the root token",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "shares", Value: 5, Usage: "total unseal shares (N)"},
					&cli.IntFlag{Name: "threshold", Value: 3, Usage: "shares needed to unseal (K)"},
				},
				Action: func(cCtx *cli.Context) error {
					result, err := clientFor(cCtx).Initialize(cCtx.Context,
						cCtx.Int("shares"), cCtx.Int("threshold"))
					if err != nil {
						return err
					}

					out := struct {
						Shares    []string `json:"shares"`
						RootToken string   `json:"root_token"`
					}{RootToken: result.RootToken}
					for _, share := range result.Shares {
						out.Shares = append(out.Shares, base64.StdEncoding.EncodeToString(share))
					}
					return printJSON(out)
				},
			},
			{
				Name:      "unseal",
				Usage:     "Submit one base64 unseal share",
				ArgsUsage: "<share>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("expected exactly one share argument")
					}
					share, err := base64.StdEncoding.DecodeString(cCtx.Args().First())
					if err != nil {
						return fmt.Errorf("share is not valid base64: %w", err)
					}

					status, err := clientFor(cCtx).Unseal(cCtx.Context, share)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "status",
				Usage: "Show seal status",
				Action: func(cCtx *cli.Context) error {
					status, err := clientFor(cCtx).SealStatus(cCtx.Context)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "seal",
				Usage: "Re-seal the service (requires sudo on sys/seal)",
				Action: func(cCtx *cli.Context) error {
					return clientFor(cCtx).Seal(cCtx.Context)
				},
			},
			{
				Name:  "init-token",
				Usage: "Fetch the stashed root token (single use, short window)",
				Action: func(cCtx *cli.Context) error {
					rootToken, err := clientFor(cCtx).InitRootToken(cCtx.Context)
					if err != nil {
						return err
					}
					fmt.Println(rootToken)
					return nil
				},
			},
			{
				Name:      "read",
				Usage:     "Read a secret",
				ArgsUsage: "<path>",
				Action: func(cCtx *cli.Context) error {
					secret, err := clientFor(cCtx).Read(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					return printJSON(secret)
				},
			},
			{
				Name:      "write",
				Usage:     "Write a secret from key=value arguments",
				ArgsUsage: "<path> <key=value>...",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() < 2 {
						return fmt.Errorf("expected a path and at least one key=value pair")
					}
					data := map[string]interface{}{}
					for _, arg := range cCtx.Args().Tail() {
						key, value, ok := strings.Cut(arg, "=")
						if !ok {
							return fmt.Errorf("argument %q is not key=value", arg)
						}
						data[key] = value
					}
					return clientFor(cCtx).Write(cCtx.Context, cCtx.Args().First(), data)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a secret",
				ArgsUsage: "<path>",
				Action: func(cCtx *cli.Context) error {
					return clientFor(cCtx).Delete(cCtx.Context, cCtx.Args().First())
				},
			},
			{
				Name:      "list",
				Usage:     "List entries under a prefix",
				ArgsUsage: "<path>",
				Action: func(cCtx *cli.Context) error {
					keys, err := clientFor(cCtx).List(cCtx.Context, cCtx.Args().First())
					if err != nil {
						return err
					}
					return printJSON(keys)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
