package main

import (
	"fmt"
	"os"
	"time"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"cherivm/vm"
)

var log = logrus.New()

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cherivm",
		Short: "assemble and run programs on a capability-machine VM",
	}
	root.AddCommand(runCmd(), asmCmd(), stepCmd())
	return root
}

// loadProgram implements the driver contract: read source, parse to
// intermediate form, assemble to a dense instruction vector, construct a
// Machine whose boot capability is bounded by memSize, and store the
// program at offset 0 through the boot data capability. It also returns the
// assembler's label table (name -> byte offset), so callers wiring up a
// --debug symbol table don't need to re-assemble.
func loadProgram(path string, memSize int) (*vm.Machine, []vm.Instruction, map[string]vm.Int, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "reading %s", path)
	}

	lines, err := vm.ParseProgram(string(src))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "parsing source")
	}

	program, labels, err := vm.AssembleWithLabels(lines)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "assembling program")
	}

	// Clamp before narrowing to vm.Int (int16): NewMachineSized clamps its
	// own argument to [0, MemorySize], but an out-of-int16-range --mem-size
	// (e.g. a typo'd extra digit) must not wrap around to a bogus value
	// first.
	if memSize > vm.MemorySize {
		memSize = vm.MemorySize
	}
	if memSize < 0 {
		memSize = 0
	}
	m := vm.NewMachineSized(vm.Int(memSize))
	if rerr := m.Memory.StoreInstructions(m.Reg.Cap(vm.DD), 0, program); rerr != nil {
		return nil, nil, nil, errors.Wrap(rerr, "installing program at boot")
	}
	return m, program, labels, nil
}

func runCmd() *cobra.Command {
	var delayMs int
	var maxTicks int
	var memSize int

	cmd := &cobra.Command{
		Use:   "run [file.casm]",
		Short: "assemble and run a program until it halts or faults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, _, err := loadProgram(args[0], memSize)
			if err != nil {
				return err
			}
			sink := &stdoutSink{}
			m.Out = sink

			for i := 0; maxTicks <= 0 || i < maxTicks; i++ {
				fmt.Print("\x1b[H\x1b[2J")
				fmt.Println(renderRegisters(m))

				if rerr := m.Tick(); rerr != nil {
					log.WithFields(logrus.Fields{
						"pc":    m.Reg.PC,
						"fault": rerr.Error(),
					}).Error("machine halted on fault")
					return nil
				}

				if delayMs > 0 {
					time.Sleep(time.Duration(delayMs) * time.Millisecond)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&delayMs, "delay", 100, "milliseconds to sleep between ticks (0 disables)")
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 0, "stop after this many ticks (0 means run until fault)")
	cmd.Flags().IntVar(&memSize, "mem-size", vm.MemorySize, "bound the boot capability's end to this many bytes, instead of the full memory")
	return cmd
}

func asmCmd() *cobra.Command {
	var memSize int

	cmd := &cobra.Command{
		Use:   "asm [file.casm]",
		Short: "assemble a program and print the resolved instruction stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, program, _, err := loadProgram(args[0], memSize)
			if err != nil {
				return err
			}
			for i, instr := range program {
				fmt.Printf("%04x  %s\n", i*int(vm.InstructionStride), instr)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&memSize, "mem-size", vm.MemorySize, "bound the boot capability's end to this many bytes, instead of the full memory")
	return cmd
}

// stepCmd drives an interactive, line-oriented debugger: each prompt
// advances the machine by one tick unless a breakpoint or register dump
// command is given instead. With --debug, the assembler's label table is
// loaded alongside the program so breakpoints can name a label instead of
// a raw address.
func stepCmd() *cobra.Command {
	var memSize int
	var debug bool

	cmd := &cobra.Command{
		Use:   "step [file.casm]",
		Short: "interactively single-step a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, labels, err := loadProgram(args[0], memSize)
			if err != nil {
				return err
			}
			if !debug {
				labels = nil
			}
			return runDebugSession(m, labels)
		},
	}
	cmd.Flags().IntVar(&memSize, "mem-size", vm.MemorySize, "bound the boot capability's end to this many bytes, instead of the full memory")
	cmd.Flags().BoolVar(&debug, "debug", false, "load the assembler's symbol table and allow breakpoints by label name")
	return cmd
}

// runDebugSession drives the step loop. labels is nil unless --debug was
// given; when present it is printed once at startup and consulted by the
// "b" command so a breakpoint can be set by label name (e.g. "b loop")
// instead of only by hex address.
func runDebugSession(m *vm.Machine, labels map[string]vm.Int) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	breakpoints := map[vm.Int]bool{}

	fmt.Println("cherivm step debugger — commands: [enter]=tick, b <addr|label>=breakpoint, r=registers, q=quit")
	if labels != nil {
		fmt.Println("symbol table:")
		for name, off := range labels {
			fmt.Printf("  %-16s %04x\n", name, uint16(off))
		}
	}
	for {
		input, err := line.Prompt(fmt.Sprintf("(pc=%04x)> ", m.Reg.PC))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return errors.Wrap(err, "reading debug command")
		}
		line.AppendHistory(input)

		switch {
		case input == "q":
			return nil
		case input == "r":
			fmt.Println(renderRegisters(m))
		case input == "" || input == "s":
			if rerr := m.Tick(); rerr != nil {
				log.WithField("pc", m.Reg.PC).WithError(rerr).Error("fault")
				return nil
			}
			if breakpoints[m.Reg.PC] {
				fmt.Printf("breakpoint hit at %04x\n", m.Reg.PC)
			}
		default:
			var arg string
			if n, _ := fmt.Sscanf(input, "b %s", &arg); n == 1 {
				addr, ok := resolveBreakpointTarget(arg, labels)
				if !ok {
					fmt.Printf("unknown label or address %q\n", arg)
					continue
				}
				breakpoints[addr] = true
				fmt.Printf("breakpoint set at %04x\n", uint16(addr))
				continue
			}
			fmt.Println("unrecognized command")
		}
	}
}

// resolveBreakpointTarget resolves a "b" command's argument, preferring a
// label lookup (only possible under --debug, when labels is non-nil) and
// falling back to hex address parsing.
func resolveBreakpointTarget(arg string, labels map[string]vm.Int) (vm.Int, bool) {
	if off, ok := labels[arg]; ok {
		return off, true
	}
	var addr int
	if n, _ := fmt.Sscanf(arg, "%x", &addr); n == 1 {
		return vm.Int(addr), true
	}
	return 0, false
}

func renderRegisters(m *vm.Machine) string {
	s := fmt.Sprintf("pc=%04x", uint16(m.Reg.PC))
	for r := vm.R0; r <= vm.SP; r++ {
		s += fmt.Sprintf(" %s=%d", r, m.Reg.GP(r))
	}
	return s
}

// stdoutSink writes every emitted byte to standard output, matching the
// only externally visible side effect this instruction set can produce.
type stdoutSink struct{}

func (stdoutSink) EmitByte(b byte) {
	os.Stdout.Write([]byte{b})
}
