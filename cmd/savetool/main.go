// Command savetool inspects PocketPaws save slots offline: it derives
// the same key the game would, decrypts a slot, verifies its digest and
// prints a summary. Useful for support tickets where a player reports a
// lost or "hacked" save.
//
// Usage:
//
//	savetool inspect [-slot primary|backup]
//	savetool verify
//	savetool promote
//
// Configuration comes from the same SECURECORE_* environment variables
// the SDK uses; SECURECORE_DEVICE_ID must be set to the device the save
// came from.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pocketpaws/securecore/config"
	"github.com/pocketpaws/securecore/internal/application/statestore"
	"github.com/pocketpaws/securecore/internal/domain/state"
	"github.com/pocketpaws/securecore/internal/infrastructure/persistence/slots"
	"github.com/pocketpaws/securecore/pkg/crypto"
	"github.com/pocketpaws/securecore/pkg/deviceid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	slot := fs.String("slot", "primary", "slot to operate on: primary or backup")
	fs.Parse(os.Args[2:])

	codec, slotStore, err := open(cfg, logger)
	if err != nil {
		fatal("%v", err)
	}

	switch command {
	case "inspect":
		err = inspect(codec, slotStore, *slot)
	case "verify":
		err = verify(codec, slotStore)
	case "promote":
		err = promote(codec, slotStore)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%s: %v", command, err)
	}
}

func open(cfg *config.Config, logger *slog.Logger) (*statestore.Codec, *slots.Store, error) {
	fingerprint, err := deviceid.Fingerprint(cfg.Crypto.DeviceIDOverride, cfg.Storage.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve device fingerprint: %w", err)
	}
	installSecret, err := crypto.LoadOrCreateInstallSecret(cfg.Crypto.InstallSecretFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load install secret: %w", err)
	}
	key, err := crypto.DeriveStateKey(fingerprint, cfg.App.BuildID, installSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("derive state key: %w", err)
	}

	slotStore, err := slots.NewStore(cfg.Storage.Dir, cfg.Storage.PrimaryFile, cfg.Storage.BackupFile, logger)
	if err != nil {
		return nil, nil, err
	}
	return statestore.NewCodec(key, cfg.Storage.Compress), slotStore, nil
}

func readSlot(codec *statestore.Codec, slotStore *slots.Store, slot string) (*state.PersistedState, error) {
	var blob []byte
	var err error
	switch slot {
	case "primary":
		blob, err = slotStore.ReadPrimary()
	case "backup":
		blob, err = slotStore.ReadBackup()
	default:
		return nil, fmt.Errorf("unknown slot %q", slot)
	}
	if err != nil {
		return nil, err
	}
	return codec.Decode(blob)
}

func inspect(codec *statestore.Codec, slotStore *slots.Store, slot string) error {
	st, err := readSlot(codec, slotStore, slot)
	if err != nil {
		return err
	}

	fmt.Printf("slot:          %s\n", slot)
	fmt.Printf("player_id:     %s\n", st.PlayerID)
	fmt.Printf("display_name:  %s\n", st.DisplayName)
	fmt.Printf("coins:         %d\n", st.Coins)
	fmt.Printf("experience:    %d (level %d)\n", st.Experience, st.Level())
	fmt.Printf("day_counter:   %d\n", st.DayCounter)
	fmt.Printf("pets:          %d\n", len(st.Pets))
	fmt.Printf("items:         %d\n", len(st.Items))
	fmt.Printf("achievements:  %d\n", len(st.Achievements))
	fmt.Printf("created_at:    %s\n", st.CreatedAt)
	fmt.Printf("updated_at:    %s\n", st.UpdatedAt)
	return nil
}

func verify(codec *statestore.Codec, slotStore *slots.Store) error {
	ok := true
	for _, slot := range []string{"primary", "backup"} {
		_, err := readSlot(codec, slotStore, slot)
		switch {
		case err == nil:
			fmt.Printf("%-8s OK\n", slot)
		case errors.Is(err, slots.ErrSlotMissing):
			fmt.Printf("%-8s MISSING\n", slot)
		default:
			fmt.Printf("%-8s FAILED: %v\n", slot, err)
			ok = false
		}
	}
	if !ok {
		return errors.New("one or more slots failed verification")
	}
	return nil
}

func promote(codec *statestore.Codec, slotStore *slots.Store) error {
	// Refuse to promote a backup that does not itself verify.
	if _, err := readSlot(codec, slotStore, "backup"); err != nil {
		return fmt.Errorf("backup does not verify: %w", err)
	}
	if err := slotStore.PromoteBackup(); err != nil {
		return err
	}
	fmt.Println("backup promoted to primary")
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: savetool <inspect|verify|promote> [-slot primary|backup]")
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "savetool: "+format+"\n", args...)
	os.Exit(1)
}
