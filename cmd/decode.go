// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/regolith/pkg/packet"
)

var decodeText bool

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode operator payloads offline",
	Long: `Decode one or more operator payloads and report anomalies.

Each argument is one payload in hex. Bytes may be separated by spaces, colons
or written as one string, with or without a 0x prefix:

  regolith decode 087F "96" 0x82
  regolith decode --text stop-listening

Payloads are decoded with the scales and trigger map from --config, so the
output matches what the vehicle would execute. Invalid payloads are shown as
the vehicle treats them: a request to stop all motion.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeText, "text", false, "Treat arguments as text payloads")
}

func runDecode(cmd *cobra.Command, args []string) error {
	opts, err := loadPacketOptions()
	if err != nil {
		return err
	}

	for _, arg := range args {
		var payload []byte
		if decodeText {
			payload = []byte(arg)
		} else {
			payload, err = parseHexPayload(arg)
			if err != nil {
				return fmt.Errorf("%q: %v", arg, err)
			}
		}
		printDecoded(payload, opts)
	}
	return nil
}

// parseHexPayload accepts "08 7F", "08:7f", "087F" and "0x08 0x7F"
func parseHexPayload(s string) ([]byte, error) {
	s = strings.NewReplacer("0x", "", "0X", "", " ", "", ":", "", ",", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	return hex.DecodeString(s)
}

// printDecoded prints a payload, its decoding and any anomalies
func printDecoded(payload []byte, opts packet.Options) {
	fmt.Println(packet.FormatPayload(payload, opts))
	if packet.IsStopListening(payload) {
		return
	}

	command := packet.Decode(payload, opts)
	if _, ok := command.(packet.Invalid); ok {
		fmt.Printf("  \033[1;31mFAIL-SAFE:\033[0m vehicle stops all motion\n")
	}
	for i, anomaly := range packet.Validate(command, opts) {
		if anomaly.Type == packet.AnomalyInvalidPacket {
			continue
		}
		fmt.Printf("  Issue %d: \033[1;33m%s\033[0m (%s)\n", i+1, anomaly.Message, anomaly.Type)
		if details := formatDetails(anomaly.Details); details != "" {
			fmt.Printf("    %s\n", details)
		}
	}
}

func formatDetails(details map[string]interface{}) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, details[k])
	}
	return strings.Join(parts, ", ")
}
