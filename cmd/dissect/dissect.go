// Package dissect implements the "dissect" CLI command: read TLS records
// from a pcap file or a line-oriented packet dump file, parse handshakes,
// and decrypt application data when a key log is supplied.
package dissect

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ntkit/tlsdissect/internal/pkg/capture"
	"github.com/ntkit/tlsdissect/internal/pkg/logger"
	"github.com/ntkit/tlsdissect/internal/pkg/metrics"
	"github.com/ntkit/tlsdissect/internal/pkg/tls"
	"github.com/ntkit/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/ntkit/tlsdissect/internal/pkg/tls/keylog"
)

// secretStore is satisfied by both a plain snapshot of a key log
// (mapSecretStore) and a live keylog.Store fed by a Watcher.
type secretStore interface {
	Get(clientRandom [32]byte) *keylog.SessionKeys
}

type mapSecretStore map[[32]byte]*keylog.SessionKeys

func (m mapSecretStore) Get(clientRandom [32]byte) *keylog.SessionKeys {
	return m[clientRandom]
}

var DissectCmd = &cobra.Command{
	Use:   "dissect",
	Short: "Dissect TLS records from a capture",
	Long: `Dissect TLS records from a pcap file or a line-oriented hex packet
dump, extracting handshake metadata (SNI, cipher suite, JA3/JA3S) and
decrypting application data when a key log is supplied.`,
	RunE: run,
}

var (
	pcapFile    string
	dumpFile    string
	keyLogFile  string
	watchKeyLog bool
	rulesFile   string
	metricsPort int
)

func init() {
	DissectCmd.Flags().StringVarP(&pcapFile, "pcap", "r", "", "read from pcap file")
	DissectCmd.Flags().StringVar(&dumpFile, "dump-file", "", "read from a line-oriented hex packet dump file")
	DissectCmd.Flags().StringVarP(&keyLogFile, "key-log", "k", "", "SSLKEYLOGFILE-format key log, for decrypting application data")
	DissectCmd.Flags().BoolVar(&watchKeyLog, "watch-key-log", false, "tail --key-log for new entries instead of reading it once")
	DissectCmd.Flags().StringVar(&rulesFile, "rules", "", "YAML file of SNI/JA3 deny rules to filter reported flows")
	DissectCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "expose Prometheus metrics on this port (0 disables)")

	_ = viper.BindPFlag("dissect.pcap", DissectCmd.Flags().Lookup("pcap"))
	_ = viper.BindPFlag("dissect.dump_file", DissectCmd.Flags().Lookup("dump-file"))
	_ = viper.BindPFlag("dissect.key_log", DissectCmd.Flags().Lookup("key-log"))
	_ = viper.BindPFlag("dissect.watch_key_log", DissectCmd.Flags().Lookup("watch-key-log"))
	_ = viper.BindPFlag("dissect.rules", DissectCmd.Flags().Lookup("rules"))
}

func run(cmd *cobra.Command, args []string) error {
	if pcapFile == "" && dumpFile == "" {
		return fmt.Errorf("one of --pcap or --dump-file is required")
	}

	var exporter *metrics.Exporter
	if metricsPort > 0 {
		exporter = metrics.NewExporter(metricsPort)
		if err := exporter.Enable(); err != nil {
			return fmt.Errorf("enable metrics: %w", err)
		}
		defer exporter.Disable()
	}

	var secrets secretStore
	if keyLogFile != "" && watchKeyLog {
		store := keylog.NewStore(keylog.DefaultStoreConfig())
		defer store.Stop()

		watcher := keylog.NewWatcher(keyLogFile, store, keylog.DefaultWatcherConfig())
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start key log watcher: %w", err)
		}
		defer watcher.Stop()

		secrets = store
		logger.Info("watching key log", "path", keyLogFile)
	} else if keyLogFile != "" {
		loaded, errs := keylog.ReadSecrets(keyLogFile)
		for _, err := range errs {
			logger.Warn("key log line skipped", "error", err)
		}
		secrets = mapSecretStore(loaded)
		logger.Info("loaded key log secrets", "sessions", len(loaded))
	}

	var rules *tls.RuleConfig
	if rulesFile != "" {
		loaded, err := tls.LoadRules(rulesFile)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		rules = loaded
		logger.Info("loaded filter rules", "rules", len(rules.Rules))
	}

	if dumpFile != "" {
		return dissectDumpFile(dumpFile, exporter)
	}
	return dissectPcap(pcapFile, secrets, rules, exporter)
}

func dissectDumpFile(path string, exporter *metrics.Exporter) error {
	packets, err := capture.ReadDumpFile(path)
	if err != nil {
		return fmt.Errorf("read dump file: %w", err)
	}

	for i, packet := range packets {
		records, _, err := tls.SplitRecords(packet)
		if err != nil {
			logger.Warn("record split failed", "packet", i, "error", err)
			continue
		}
		for _, r := range records {
			if exporter != nil {
				exporter.RecordSplit(r.ContentType.String())
			}
			reportRecord(i, r)
		}
	}

	return nil
}

func dissectPcap(path string, secrets secretStore, rules *tls.RuleConfig, exporter *metrics.Exporter) error {
	flows, errs := capture.ReadPcap(path)
	for _, err := range errs {
		logger.Warn("flow decode error", "error", err)
	}

	tracker := tls.NewTracker(tls.DefaultTrackerConfig())
	defer tracker.Stop()

	for _, flow := range flows {
		if exporter != nil {
			exporter.SetTrackedFlows(1)
		}

		var clientRandom [32]byte
		var cipherSuite uint16
		haveHandshake := false
		denied := false

		for _, r := range flow.Records {
			if denied {
				break
			}
			if exporter != nil {
				exporter.RecordSplit(r.ContentType.String())
			}
			reportRecord(0, r)

			switch {
			case tls.IsClientHello(r):
				ch, err := tls.ParseClientHello(r.Payload)
				if err != nil {
					logger.Warn("ClientHello parse failed", "flow", flow.Key, "error", err)
					continue
				}
				if !rules.Allows(ch) {
					logger.Info("flow denied by rule", "flow", flow.Key)
					denied = true
					continue
				}
				clientRandom = ch.Random
				tracker.TrackClientHello(flow.Key, ch)
				if sni, err := tls.GetSNI(ch); err == nil {
					logger.Info("SNI observed", "flow", flow.Key, "sni", sni)
				}
				if ja3, err := tls.JA3(ch); err == nil {
					logger.Info("JA3 observed", "flow", flow.Key, "ja3", ja3)
				}
			case tls.IsServerHello(r):
				sh, err := tls.ParseServerHello(r.Payload)
				if err != nil {
					logger.Warn("ServerHello parse failed", "flow", flow.Key, "error", err)
					continue
				}
				cipherSuite = sh.CipherSuite
				haveHandshake = true
				logger.Info("cipher suite selected", "flow", flow.Key, "cipher_suite", fmt.Sprintf("0x%04x", sh.CipherSuite))
				if ja3s, err := tls.JA3S(sh); err == nil {
					logger.Info("JA3S observed", "flow", flow.Key, "ja3s", ja3s)
				}
				tracker.CorrelateServerHello(flow.Key, sh)
			}
		}

		if denied || !haveHandshake || secrets == nil {
			continue
		}
		sessionKeys := secrets.Get(clientRandom)
		if sessionKeys == nil {
			continue
		}

		decryptFlow(flow, clientRandom, cipherSuite, sessionKeys, exporter)
	}

	return nil
}

func decryptFlow(flow capture.FlowRecords, clientRandom [32]byte, cipherSuite uint16, sessionKeys *keylog.SessionKeys, exporter *metrics.Exporter) {
	session, err := tls.NewSession(clientRandom, [32]byte{}, cipherSuite, sessionKeys)
	if err != nil {
		logger.Warn("could not start decryption session", "flow", flow.Key, "error", err)
		return
	}

	for _, direction := range []decrypt.Direction{decrypt.DirectionClient, decrypt.DirectionServer} {
		decrypted, err := session.DecryptRecords(direction, flow.Records)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			logger.Warn("decryption stopped early", "flow", flow.Key, "direction", direction, "error", err)
		}
		if exporter != nil {
			exporter.RecordDecryptResult(direction.String(), outcome)
		}
		for _, r := range decrypted {
			reportDecrypted(flow.Key, direction, r)
		}
	}
}

func reportRecord(index int, r tls.Record) {
	logger.Debug("record", "index", index, "content_type", r.ContentType.String(), "length", len(r.Payload))
}

func reportDecrypted(key tls.FlowKey, direction decrypt.Direction, r tls.Record) {
	previewLen := min(len(r.Payload), 16)
	logger.Info("decrypted record", "flow", key, "direction", direction, "content_type", r.ContentType.String(), "preview", hex.EncodeToString(r.Payload[:previewLen]))
}
