package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ZentaChain/marp-node/pkg/crypto"
	"github.com/ZentaChain/marp-node/pkg/node"
	"github.com/ZentaChain/marp-node/pkg/response"
)

var targetFlags = []cli.Flag{
	&cli.StringFlag{Name: "name", Usage: "name whose hash keys the records"},
	&cli.StringFlag{Name: "hash", Usage: "64 character hex hash, instead of --name"},
	&cli.UintFlag{Name: "protocol", Aliases: []string{"p"}, Required: true, Usage: "record protocol number"},
}

var publishCmd = &cli.Command{
	Name:      "publish",
	Usage:     "write a record into the local store",
	ArgsUsage: "<payload>",
	Flags: append([]cli.Flag{
		&cli.UintFlag{Name: "ttl", Value: 3600, Usage: "record lifetime in seconds"},
		&cli.StringFlag{Name: "payload-file", Usage: "read the payload from a file instead of the argument"},
		&cli.StringFlag{Name: "key", Usage: "hex record key used to encrypt the payload"},
		&cli.StringFlag{Name: "passphrase", Usage: "derive the record key from a passphrase"},
		&cli.StringFlag{Name: "authority-key", Usage: "sign with this key file"},
	}, targetFlags...),
	Action: func(cctx *cli.Context) error {
		hash, proto, err := target(cctx)
		if err != nil {
			return err
		}
		ttl := cctx.Uint("ttl")
		if ttl > 0xFFFF {
			return errors.New("ttl must fit in 16 bits")
		}

		payload, err := readPayload(cctx)
		if err != nil {
			return err
		}
		key, encrypt, err := crypto.RecordKeyFrom(cctx.String("key"), cctx.String("passphrase"))
		if err != nil {
			return err
		}
		if encrypt {
			if payload, err = crypto.EncryptPayload(key, payload); err != nil {
				return err
			}
		}

		n, err := openLocal(cctx)
		if err != nil {
			return err
		}
		defer n.Close()

		resp, err := n.Publish(hash, proto, payload, uint16(ttl))
		if err != nil {
			return err
		}
		fmt.Printf("hash:          %s\nrecords:       %d\nauthoritative: %t\n",
			resp.Identifier(), resp.RecordCount(), resp.IsAuthoritative())
		return nil
	},
}

var unpublishCmd = &cli.Command{
	Name:  "unpublish",
	Usage: "remove a record from the local store",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "authority-key", Usage: "re-sign the remaining records with this key file"},
	}, targetFlags...),
	Action: func(cctx *cli.Context) error {
		hash, proto, err := target(cctx)
		if err != nil {
			return err
		}
		n, err := openLocal(cctx)
		if err != nil {
			return err
		}
		defer n.Close()
		return n.Unpublish(hash, proto)
	},
}

func target(cctx *cli.Context) (response.Hash, uint16, error) {
	var hash response.Hash
	proto := cctx.Uint("protocol")
	if proto > 0xFFFF {
		return hash, 0, errors.New("protocol must fit in 16 bits")
	}

	switch {
	case cctx.String("hash") != "":
		h, err := response.ParseHash(cctx.String("hash"))
		if err != nil {
			return hash, 0, err
		}
		hash = h
	case cctx.String("name") != "":
		hash = crypto.NameHash(cctx.String("name"))
	default:
		return hash, 0, errors.New("one of --name or --hash is required")
	}
	return hash, uint16(proto), nil
}

func readPayload(cctx *cli.Context) ([]byte, error) {
	if path := cctx.String("payload-file"); path != "" {
		b, err := os.ReadFile(path)
		return b, errors.Wrap(err, "read payload file")
	}
	if cctx.NArg() != 1 {
		return nil, errors.New("expected exactly one payload argument")
	}
	return []byte(cctx.Args().First()), nil
}

// openLocal opens the node store without binding any transport.
func openLocal(cctx *cli.Context) (*node.Node, error) {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return nil, err
	}
	cfg.P2P.Enabled = false
	if cctx.IsSet("authority-key") {
		cfg.Authority.KeyFile = cctx.String("authority-key")
	}
	return node.New(cctx.Context, cfg)
}
