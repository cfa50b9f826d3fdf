package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ZentaChain/marp-node/pkg/authority"
	"github.com/ZentaChain/marp-node/pkg/crypto"
	logging "github.com/ZentaChain/marp-node/pkg/log"
	"github.com/ZentaChain/marp-node/pkg/network"
	"github.com/ZentaChain/marp-node/pkg/p2p"
	"github.com/ZentaChain/marp-node/pkg/protocol"
	"github.com/ZentaChain/marp-node/pkg/query"
	"github.com/ZentaChain/marp-node/pkg/resolver"
	"github.com/ZentaChain/marp-node/pkg/response"
)

func main() {
	app := &cli.App{
		Name:    "marp",
		Usage:   "query MARP resolvers and prepare record payloads",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "log level"},
		},
		Before: func(cctx *cli.Context) error {
			cfg := logging.DefaultConfig()
			cfg.Level = cctx.String("log-level")
			return logging.Setup(cfg)
		},
		Commands: []*cli.Command{
			queryCmd,
			hashCmd,
			encryptCmd,
			decryptCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

var keyFlags = []cli.Flag{
	&cli.StringFlag{Name: "key", Usage: "hex record key"},
	&cli.StringFlag{Name: "passphrase", Usage: "derive the record key from a passphrase"},
}

var queryCmd = &cli.Command{
	Name:      "query",
	Usage:     "ask a resolver for the records of a name or hash",
	ArgsUsage: "<name|hash>",
	Flags: append([]cli.Flag{
		&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Value: "127.0.0.1:5380", Usage: "resolver address, host:port or /p2p multiaddr"},
		&cli.IntSliceFlag{Name: "protocol", Aliases: []string{"p"}, Usage: "only these record protocols (repeatable)"},
		&cli.UintFlag{Name: "depth", Value: 1, Usage: "recursion hop budget"},
		&cli.BoolFlag{Name: "authoritative", Usage: "accept signed answers only"},
		&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "give up after this long"},
		&cli.StringSliceFlag{Name: "trust", Usage: "verify the signature against these hex public keys"},
	}, keyFlags...),
	Action: runQuery,
}

func runQuery(cctx *cli.Context) error {
	if cctx.NArg() != 1 {
		return errors.New("expected exactly one name or hash")
	}
	if cctx.Uint("depth") > protocol.MaxRecurseDepth {
		return errors.Errorf("depth exceeds %d", protocol.MaxRecurseDepth)
	}

	q := &query.Query{Hash: target(cctx.Args().First())}
	for _, p := range cctx.IntSlice("protocol") {
		if p < 0 || p > 0xFFFF {
			return errors.Errorf("invalid protocol %d", p)
		}
		q.Protocols = append(q.Protocols, uint16(p))
	}
	payload, err := q.Encode()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
	defer cancel()

	ex, closeFn, err := exchanger(ctx, cctx.String("server"), cctx.Duration("timeout"))
	if err != nil {
		return err
	}
	defer closeFn()

	req := protocol.NewQueryFrame(cctx.Bool("authoritative"), uint8(cctx.Uint("depth")), payload)
	reply, err := ex.Exchange(ctx, cctx.String("server"), req)
	if err != nil {
		return err
	}
	if reply.Type == protocol.TypeError {
		if reply.HasFlag(protocol.FlagTruncated) {
			return errors.Errorf("answer too large for UDP, query over libp2p instead: %s", reply.Payload)
		}
		return errors.Errorf("resolver: %s", reply.Payload)
	}

	resp, err := response.Deserialize(reply.Payload)
	if err != nil {
		return err
	}
	if resp.Identifier() != q.Hash {
		return errors.New("resolver answered for a different hash")
	}

	fmt.Printf("hash:          %s\n", resp.Identifier())
	fmt.Printf("authoritative: %t\n", resp.IsAuthoritative())
	if resp.IsAuthoritative() {
		if err := verify(resp, cctx.StringSlice("trust")); err != nil {
			return err
		}
	}
	fmt.Println()

	key, ok, err := crypto.RecordKeyFrom(cctx.String("key"), cctx.String("passphrase"))
	if err != nil {
		return err
	}
	if ok {
		return response.PrintDecrypted(os.Stdout, resp, key)
	}
	for i, rec := range resp.Records() {
		fmt.Printf("Record %d:\nProtocol: %d\nTTL: %d seconds\nTimestamp: %s\nPayload: %s\n\n",
			i, rec.Protocol, rec.TTL, rec.Time().UTC().Format(time.RFC3339), hex.EncodeToString(rec.Payload))
	}
	return nil
}

// exchanger picks the transport for server. A libp2p host is only started
// when the server is a multiaddr.
func exchanger(ctx context.Context, server string, timeout time.Duration) (resolver.Exchanger, func(), error) {
	if !strings.HasPrefix(server, "/") {
		return network.NewClient(timeout), func() {}, nil
	}
	host, err := p2p.New(ctx, &p2p.Config{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}})
	if err != nil {
		return nil, nil, err
	}
	return host, func() { _ = host.Close() }, nil
}

func verify(resp *response.Response, trusted []string) error {
	signer, err := authority.RecoverSigner(resp)
	if err != nil {
		return err
	}
	fmt.Printf("signer:        %s\n", crypto.ExportPublicKeyHex(signer))
	if len(trusted) == 0 {
		fmt.Println("verified:      no (pass --trust to check the signer)")
		return nil
	}

	ts := authority.NewTrustStore()
	for _, k := range trusted {
		if err := ts.AddHex(k); err != nil {
			return err
		}
	}
	if err := ts.Verify(resp); err != nil {
		return err
	}
	fmt.Println("verified:      yes")
	return nil
}

func target(s string) response.Hash {
	if h, err := response.ParseHash(s); err == nil {
		return h
	}
	return crypto.NameHash(s)
}

var hashCmd = &cli.Command{
	Name:      "hash",
	Usage:     "print the hash a name is published under",
	ArgsUsage: "<name>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return errors.New("expected exactly one name")
		}
		fmt.Println(response.Hash(crypto.NameHash(cctx.Args().First())))
		return nil
	},
}

var encryptCmd = &cli.Command{
	Name:      "encrypt",
	Usage:     "encrypt a record payload and print it as hex",
	ArgsUsage: "<plaintext>",
	Flags:     keyFlags,
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return errors.New("expected exactly one plaintext")
		}
		key, ok, err := crypto.RecordKeyFrom(cctx.String("key"), cctx.String("passphrase"))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("one of --key or --passphrase is required")
		}
		out, err := crypto.EncryptPayload(key, []byte(cctx.Args().First()))
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(out))
		return nil
	},
}

var decryptCmd = &cli.Command{
	Name:      "decrypt",
	Usage:     "decrypt a hex record payload",
	ArgsUsage: "<hex payload>",
	Flags:     keyFlags,
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return errors.New("expected exactly one payload")
		}
		key, ok, err := crypto.RecordKeyFrom(cctx.String("key"), cctx.String("passphrase"))
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("one of --key or --passphrase is required")
		}
		payload, err := hex.DecodeString(cctx.Args().First())
		if err != nil {
			return errors.Wrap(err, "payload is not hex")
		}
		plain, err := crypto.DecryptPayloadAlloc(key, payload)
		if err != nil {
			return err
		}
		fmt.Println(string(plain))
		return nil
	},
}
