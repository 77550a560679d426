package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MrEthical07/authcore/keys"
)

func main() {
	var (
		alg   = flag.String("alg", string(keys.Ed25519), "key algorithm: ed25519 or rs256")
		out   = flag.String("out", ".", "directory for signing.pem and signing.pub.pem")
		force = flag.Bool("force", false, "overwrite existing files")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(keys.Algorithm(*alg), *out, *force); err != nil {
		logger.Error("keygen failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(alg keys.Algorithm, dir string, force bool) error {
	if !alg.Valid() {
		return fmt.Errorf("unsupported algorithm %q", alg)
	}
	pair, err := keys.Generate(alg)
	if err != nil {
		return err
	}
	privPEM, pubPEM, err := keys.EncodePEM(pair)
	if err != nil {
		return err
	}

	// Round-trip through Load so a written pair is known to be usable.
	provider, err := keys.Load(keys.Config{Algorithm: alg, PrivateKeyPEM: privPEM, PublicKeyPEM: pubPEM})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	privPath := filepath.Join(dir, "signing.pem")
	pubPath := filepath.Join(dir, "signing.pub.pem")
	if err := writeFile(privPath, privPEM, 0o600, force); err != nil {
		return err
	}
	if err := writeFile(pubPath, pubPEM, 0o644, force); err != nil {
		return err
	}

	fmt.Printf("algorithm=%s kid=%s\nprivate=%s\npublic=%s\n",
		alg, provider.Current().KeyID, privPath, pubPath)
	return nil
}

func writeFile(path string, data []byte, perm os.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, perm)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%s exists, use -force to overwrite", path)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
