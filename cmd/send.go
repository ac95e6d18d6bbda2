// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/regolith/pkg/packet"
)

var (
	sendWait     time.Duration
	sendCount    int
	sendInterval time.Duration

	sendLeft  int
	sendRight int
	sendAct1  string
	sendAct2  string

	sendAux     string
	sendRelease bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send operator payloads to the vehicle",
	Long: `Send one or more operator payloads over the WebSocket link.

With --wait, the command waits for the next status frame after the last
payload and prints it. This verifies:
  - WebSocket connection is established
  - HTTP Basic authentication works
  - The vehicle is applying payloads

Motion packets are only honored while they keep arriving; use --count and
--interval to hold a motion for a while. A zero motion is sent after the
last repeat so the vehicle is left stopped.

Exit codes:
  0 - All payloads sent (and a status frame received with --wait)
  1 - Send failed or no status frame before --wait elapsed
  2 - Connection error`,
}

var sendMotionCmd = &cobra.Command{
	Use:   "motion",
	Short: "Send a motion packet",
	Example: `  regolith send motion --left 50 --right 50 --count 20
  regolith send motion --act1 extend --count 30`,
	Args: cobra.NoArgs,
	RunE: runSendMotion,
}

var sendMacroCmd = &cobra.Command{
	Use:   "macro <name|code>",
	Short: "Send a macro press and release",
	Example: `  regolith send macro dig
  regolith send macro estop
  regolith send macro 4 --aux 0x10`,
	Args: cobra.ExactArgs(1),
	RunE: runSendMacro,
}

var sendStopListeningCmd = &cobra.Command{
	Use:   "stop-listening",
	Short: "Stop all motion and shut the vehicle's operator link down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendPayloads([]outgoing{{text: packet.StopListening}}, false)
	},
}

var sendRawCmd = &cobra.Command{
	Use:   "raw <hex>...",
	Short: "Send raw payloads given in hex",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSendRaw,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.AddCommand(sendMotionCmd, sendMacroCmd, sendStopListeningCmd, sendRawCmd)

	sendCmd.PersistentFlags().DurationVar(&sendWait, "wait", 0, "Wait this long for a status frame after sending")
	sendCmd.PersistentFlags().IntVar(&sendCount, "count", 1, "Number of times to send")
	sendCmd.PersistentFlags().DurationVar(&sendInterval, "interval", 100*time.Millisecond, "Delay between repeats")

	sendMotionCmd.Flags().IntVar(&sendLeft, "left", 0, "Left drive percent (-100 to 100)")
	sendMotionCmd.Flags().IntVar(&sendRight, "right", 0, "Right drive percent (-100 to 100)")
	sendMotionCmd.Flags().StringVar(&sendAct1, "act1", "none", "Actuator 1 motion (extend, retract, none)")
	sendMotionCmd.Flags().StringVar(&sendAct2, "act2", "none", "Actuator 2 motion (extend, retract, none)")

	sendMacroCmd.Flags().StringVar(&sendAux, "aux", "", "Auxiliary byte (decimal or 0x hex)")
	sendMacroCmd.Flags().BoolVar(&sendRelease, "release-only", false, "Send only the release")
}

// outgoing is one payload, binary or text
type outgoing struct {
	data []byte
	text string
}

func (o outgoing) String() string {
	if o.data == nil {
		return fmt.Sprintf("%q", o.text)
	}
	return packet.FormatHex(o.data)
}

func runSendMotion(cmd *cobra.Command, args []string) error {
	act1, err := parseMotion(sendAct1)
	if err != nil {
		return err
	}
	act2, err := parseMotion(sendAct2)
	if err != nil {
		return err
	}
	opts, err := loadPacketOptions()
	if err != nil {
		return err
	}

	motion := packet.MotionCommand{
		LeftPercent:  sendLeft,
		RightPercent: sendRight,
		Actuators:    [packet.NumActuators]packet.Motion{act1, act2},
	}
	data, err := packet.EncodeMotion(motion, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Encoded: %s\n", packet.FormatPayload(data, opts))

	payloads := []outgoing{{data: data}}
	if !motion.Stopped() {
		payloads = append(payloads, outgoing{data: packet.MustEncodeMotion(packet.MotionCommand{}, opts)})
	}
	return sendPayloads(payloads, true)
}

func runSendMacro(cmd *cobra.Command, args []string) error {
	code, err := packet.ParseMacroCode(args[0])
	if err != nil {
		return err
	}

	release := packet.MacroCommand{Code: code}
	if sendAux != "" {
		aux, err := strconv.ParseUint(sendAux, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid --aux %q: %v", sendAux, err)
		}
		release.Aux = byte(aux)
		release.HasAux = true
	}
	press := release
	press.Pressed = true

	var payloads []outgoing
	for _, m := range []packet.MacroCommand{press, release} {
		if sendRelease && m.Pressed {
			continue
		}
		data, err := packet.EncodeMacro(m)
		if err != nil {
			return err
		}
		payloads = append(payloads, outgoing{data: data})
	}
	return sendPayloads(payloads, false)
}

func runSendRaw(cmd *cobra.Command, args []string) error {
	payloads := make([]outgoing, 0, len(args))
	for _, arg := range args {
		data, err := parseHexPayload(arg)
		if err != nil {
			return fmt.Errorf("%q: %v", arg, err)
		}
		payloads = append(payloads, outgoing{data: data})
	}
	return sendPayloads(payloads, false)
}

// sendPayloads sends payloads --count times. With hold, only the first
// payload repeats and the rest are sent once at the end.
func sendPayloads(payloads []outgoing, hold bool) error {
	if sendCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Regolith - Send\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	// Status frames arrive continuously; start listening before sending
	statusChan := make(chan packet.Status, 16)
	errChan := make(chan error, 1)
	go func() {
		for {
			status, err := conn.ReadStatus()
			if err != nil {
				errChan <- err
				return
			}
			select {
			case statusChan <- status:
			default:
			}
		}
	}()

	sequence := make([]outgoing, 0, len(payloads)*sendCount)
	if hold {
		for i := 0; i < sendCount; i++ {
			sequence = append(sequence, payloads[0])
		}
		sequence = append(sequence, payloads[1:]...)
	} else {
		for i := 0; i < sendCount; i++ {
			sequence = append(sequence, payloads...)
		}
	}

	failCount := 0
	for i, p := range sequence {
		if err := writeOutgoing(conn, p); err != nil {
			fmt.Printf("SEND FAILED %s: %v\n", p, err)
			failCount++
			continue
		}
		fmt.Printf("Sent %d/%d: %s\n", i+1, len(sequence), p)
		if i < len(sequence)-1 && sendInterval > 0 {
			time.Sleep(sendInterval)
		}
	}

	if sendWait > 0 && failCount == 0 {
		// Drop frames that were generated before the last payload
	drain:
		for {
			select {
			case <-statusChan:
			default:
				break drain
			}
		}

		select {
		case status := <-statusChan:
			fmt.Printf("\nStatus: %s\n", packet.FormatStatus(status))
			fmt.Print(status.Counters.String())
		case err := <-errChan:
			fmt.Printf("\nREAD FAILED: %v\n", err)
			failCount++
		case <-time.After(sendWait):
			fmt.Printf("\nTIMEOUT (no status in %v)\n", sendWait)
			failCount++
		}
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

func writeOutgoing(conn Connection, p outgoing) error {
	if p.data == nil {
		return conn.WriteText(p.text)
	}
	_, err := conn.Write(p.data)
	return err
}

// parseMotion accepts extend, retract or none
func parseMotion(s string) (packet.Motion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "stop":
		return packet.MotionNone, nil
	case "extend", "ext", "up":
		return packet.MotionExtending, nil
	case "retract", "ret", "down":
		return packet.MotionRetracting, nil
	}
	return packet.MotionNone, fmt.Errorf("invalid actuator motion %q (use extend, retract or none)", s)
}
