package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/tipjar"
)

func (g *globals) runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", defaultKeyFile, "keystore file to create")
	light := fs.Bool("light", false, "use light scrypt parameters (testing only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists\n", *out)
		return 1
	}
	pass, err := g.passphrase()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	save := crypto.SaveToKeystore
	if *light {
		save = crypto.SaveToKeystoreLight
	}
	if err := save(*out, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: failed to save keystore: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", *out)
	fmt.Fprintf(stdout, "Your public address is: %s\n", key.Address())
	return 0
}

func (g *globals) runAddress(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := g.loadKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.Address())
	return 0
}

// resolveAddress returns the positional or flag address, falling back to the
// wallet in keyFile.
func (g *globals) resolveAddress(explicit, keyFile string) (crypto.Address, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return crypto.DecodeAddress(explicit)
	}
	key, err := g.loadKey(keyFile)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	return key.Address(), nil
}

func (g *globals) runBalance(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore used when no address is given")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := g.resolveAddress(fs.Arg(0), *keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	res, err := g.client().GetBalance(ctx, addr)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	printJSON(stdout, res)
	return 0
}

func (g *globals) runAirdrop(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("airdrop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	to := fs.String("to", "", "recipient address")
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore used when --to is empty")
	lamports := fs.Uint64("lamports", 0, "amount to request")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *lamports == 0 {
		fmt.Fprintln(stderr, "Error: --lamports is required")
		return 1
	}
	addr, err := g.resolveAddress(*to, *keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	res, err := g.client().RequestAirdrop(ctx, addr, *lamports)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	printJSON(stdout, res)
	return 0
}

// submit signs ix with key at the key's current nonce and prints the receipt.
// A failed receipt returns 1.
func (g *globals) submit(ctx context.Context, key *crypto.PrivateKey, ix types.Instruction, stdout, stderr io.Writer) int {
	client := g.client()
	bal, err := client.GetBalance(ctx, key.Address())
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	tx := types.NewTransaction(bal.Nonce, []crypto.Address{key.Address()}, ix)
	if err := tx.Sign(key); err != nil {
		fmt.Fprintf(stderr, "Error: sign transaction: %v\n", err)
		return 1
	}
	receipt, err := client.SendTransaction(ctx, tx)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	printJSON(stdout, receipt)
	if !receipt.Success {
		fmt.Fprintf(stderr, "Error: transaction failed: %s\n", receipt.Error)
		return 1
	}
	return 0
}

func (g *globals) runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore of the jar owner")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := g.loadKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	programID, err := g.program(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ix, err := tipjar.NewInitializeInstruction(programID, key.Address())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return g.submit(ctx, key, ix, stdout, stderr)
}

func (g *globals) runTip(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tip", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore of the tipper")
	owner := fs.String("owner", "", "owner of the jar to tip")
	lamports := fs.Uint64("lamports", 0, "tip amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*owner) == "" {
		fmt.Fprintln(stderr, "Error: --owner is required")
		return 1
	}
	ownerAddr, err := crypto.DecodeAddress(strings.TrimSpace(*owner))
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --owner: %v\n", err)
		return 1
	}
	key, err := g.loadKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	programID, err := g.program(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ix, err := tipjar.NewSendTipInstruction(programID, ownerAddr, key.Address(), *lamports)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return g.submit(ctx, key, ix, stdout, stderr)
}

func (g *globals) runWithdraw(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("withdraw", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore of the jar owner")
	lamports := fs.Uint64("lamports", 0, "amount to withdraw")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := g.loadKey(*keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	programID, err := g.program(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ix, err := tipjar.NewWithdrawInstruction(programID, key.Address(), *lamports)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return g.submit(ctx, key, ix, stdout, stderr)
}

func (g *globals) runJar(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("jar", flag.ContinueOnError)
	fs.SetOutput(stderr)
	owner := fs.String("owner", "", "jar owner address")
	keyFile := fs.String("key", defaultKeyFile, "wallet keystore used when --owner is empty")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := g.resolveAddress(*owner, *keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	res, err := g.client().GetTipJar(ctx, addr)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	printJSON(stdout, res)
	return 0
}

func (g *globals) runInfo(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintln(stderr, "Error: info takes no arguments")
		return 1
	}
	ctx, cancel := callContext()
	defer cancel()
	res, err := g.client().GetProgramInfo(ctx)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	printJSON(stdout, res)
	return 0
}
