package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ZentaChain/marp-node/pkg/crypto"
)

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "generate an authority signing key or a record key",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Value: "./keys/authority.key", Usage: "where to write the authority key"},
		&cli.BoolFlag{Name: "force", Usage: "overwrite an existing key file"},
		&cli.BoolFlag{Name: "record", Usage: "print a random record key instead"},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.Bool("record") {
			key, err := crypto.GenerateRecordKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		}

		out := cctx.String("out")
		if _, err := os.Stat(out); err == nil && !cctx.Bool("force") {
			return errors.Errorf("%s exists, pass --force to replace it", out)
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o700); err != nil {
			return err
		}

		key, err := crypto.GenerateAuthorityKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveKeyToFile(out, key); err != nil {
			return err
		}

		fmt.Printf("authority key written to %s\npublic key: %s\n", out, crypto.ExportPublicKeyHex(key.PubKey()))
		return nil
	},
}
