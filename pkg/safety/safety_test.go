package safety

import (
	"fmt"
	"strings"
	"testing"

	"ssnmr-sequencer/pkg/errors"
	"ssnmr-sequencer/pkg/program"
)

var testChannels = Channels{Switch: "switch", Amplifier: "amplifier"}

// recorder captures macro output as compact strings.
type recorder struct {
	ops []string
}

func (r *recorder) Align(channels ...string) {
	r.ops = append(r.ops, "align")
}

func (r *recorder) Play(operation, channel string, opts ...program.PlayOption) {
	r.ops = append(r.ops, fmt.Sprintf("%s:%s", channel, operation))
}

func (r *recorder) Wait(cycles program.Operand, channels ...string) {
	r.ops = append(r.ops, "wait "+cycles.String())
}

func TestMacroSequences(t *testing.T) {
	tests := []struct {
		name  string
		macro func(*Interlock, Emitter) error
		want  string
		sw    SwitchState
		amp   AmplifierState
	}{
		{
			name:  "drive",
			macro: (*Interlock).Drive,
			want:  "align switch:voltage_off align wait 230 amplifier:voltage_on align wait 500 align",
			sw:    SwitchBlocking,
			amp:   AmplifierUnblanked,
		},
		{
			name:  "readout",
			macro: (*Interlock).Readout,
			want:  "align amplifier:voltage_off align wait 230 switch:voltage_on align wait 500 align",
			sw:    SwitchPassing,
			amp:   AmplifierBlanked,
		},
		{
			name:  "safe",
			macro: (*Interlock).Safe,
			want:  "align switch:voltage_off amplifier:voltage_off align wait 230 align",
			sw:    SwitchBlocking,
			amp:   AmplifierBlanked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			il := NewInterlock(testChannels)
			rec := &recorder{}
			if err := tt.macro(il, rec); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if got := strings.Join(rec.ops, " "); got != tt.want {
				t.Errorf("%s emitted %q, want %q", tt.name, got, tt.want)
			}
			st := il.State()
			if st.Switch != tt.sw || st.Amplifier != tt.amp {
				t.Errorf("%s left %s", tt.name, st)
			}
		})
	}
}

func TestMacrosFromEveryState(t *testing.T) {
	macros := map[string]func(*Interlock, Emitter) error{
		"drive":   (*Interlock).Drive,
		"readout": (*Interlock).Readout,
		"safe":    (*Interlock).Safe,
	}
	for first, m1 := range macros {
		for second, m2 := range macros {
			il := NewInterlock(testChannels)
			rec := &recorder{}
			if err := m1(il, rec); err != nil {
				t.Fatalf("%s: %v", first, err)
			}
			if err := m2(il, rec); err != nil {
				t.Errorf("%s after %s: %v", second, first, err)
			}
		}
	}
}

func TestStateChecks(t *testing.T) {
	s := State{Switch: SwitchPassing, Amplifier: AmplifierBlanked, SwitchSettled: 1000, AmplifierSettled: 1000}
	if err := s.checkAmplifier(testChannels, AmplifierUnblanked); !errors.Is(err, errors.ErrInterlockViolation) {
		t.Errorf("unblanking with receiver open: got %v", err)
	}

	s = State{Switch: SwitchBlocking, Amplifier: AmplifierBlanked, SwitchSettled: RxSwitchDelay - 1}
	if err := s.checkAmplifier(testChannels, AmplifierUnblanked); err == nil {
		t.Error("unblanking before switch settled should fail")
	}
	s.SwitchSettled = RxSwitchDelay
	if err := s.checkAmplifier(testChannels, AmplifierUnblanked); err != nil {
		t.Errorf("unblanking after exactly %d cycles: %v", RxSwitchDelay, err)
	}

	s = State{Switch: SwitchBlocking, Amplifier: AmplifierUnblanked, AmplifierSettled: 1000}
	err := s.checkSwitch(testChannels, SwitchPassing)
	if err == nil {
		t.Fatal("opening receiver with amplifier on should fail")
	}
	if !errors.IsInterlock(err) {
		t.Errorf("expected interlock error, got %v", err)
	}
	if err := s.checkSwitch(testChannels, SwitchBlocking); err != nil {
		t.Errorf("isolating receiver is always allowed: %v", err)
	}
	if err := s.checkAmplifier(testChannels, AmplifierBlanked); err != nil {
		t.Errorf("blanking is always allowed: %v", err)
	}
}

func TestVerifyAcceptsMacroProgram(t *testing.T) {
	b := program.NewBuilder()
	b.Declare("n", program.Int)
	b.Declare("I", program.Fixed)
	b.Declare("Q", program.Fixed)
	il := NewInterlock(testChannels)
	var err error
	b.For("n", program.Lit(0), program.Lit(3), program.Lit(1), func() {
		if err = il.Drive(b); err != nil {
			return
		}
		b.Play("pi_half", "probe")
		if err = il.Safe(b); err != nil {
			return
		}
		il.Wait(b, 1000)
		if err = il.Readout(b); err != nil {
			return
		}
		b.Measure("no_pulse_readout", "probe", program.Demod{Weight: "rotated_cos", Target: "I"},
			program.Demod{Weight: "rotated_sin", Target: "Q"})
		err = il.Safe(b)
	})
	if err != nil {
		t.Fatal(err)
	}
	p, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if err := Verify(p, testChannels); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestVerifyRejectsUnsafePrograms(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *program.Builder)
		want  string
	}{
		{
			name: "amplifier before switch settles",
			build: func(b *program.Builder) {
				b.Play("voltage_off", "switch")
				b.Wait(program.Lit(100))
				b.Play("voltage_on", "amplifier")
			},
			want: "amplifier unblanked 100 cycles",
		},
		{
			name: "receiver opened with amplifier on",
			build: func(b *program.Builder) {
				b.Play("voltage_on", "amplifier")
				b.Wait(program.Lit(1000))
				b.Play("voltage_on", "switch")
			},
			want: "amplifier unblanked",
		},
		{
			name: "wait on other channel does not settle",
			build: func(b *program.Builder) {
				b.Play("voltage_off", "switch")
				b.Wait(program.Lit(1000), "probe")
				b.Play("voltage_on", "amplifier")
			},
			want: "0 cycles after switch change",
		},
		{
			name: "measurement while transmitting",
			build: func(b *program.Builder) {
				b.Declare("I", program.Fixed)
				b.Play("voltage_on", "amplifier")
				b.Measure("readout", "probe", program.Demod{Weight: "cos", Target: "I"}, program.Demod{Weight: "sin", Target: "I"})
			},
			want: "measured with amplifier unblanked",
		},
		{
			name: "state carried into next iteration",
			build: func(b *program.Builder) {
				b.Declare("n", program.Int)
				b.For("n", program.Lit(0), program.Lit(2), program.Lit(1), func() {
					b.Wait(program.Lit(100))
					b.Play("voltage_on", "amplifier")
					b.Play("voltage_off", "switch")
				})
			},
			want: "cycles after switch change",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := program.NewBuilder()
			tt.build(b)
			p, err := b.Build()
			if err != nil {
				t.Fatal(err)
			}
			err = Verify(p, testChannels)
			if !errors.Is(err, errors.ErrInterlockViolation) {
				t.Fatalf("expected interlock violation, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestForCount(t *testing.T) {
	tests := []struct {
		start, limit, step float64
		want               int
	}{
		{0, 4, 1, 4},
		{0, 5, 2, 3},
		{1, 5, 2, 2},
		{1, 2, 2, 1},
		{3, 3, 1, 0},
	}
	for _, tt := range tests {
		f := program.For{Start: program.Lit(tt.start), Limit: program.Lit(tt.limit), Step: program.Lit(tt.step)}
		if got := forCount(f); got != tt.want {
			t.Errorf("forCount(%v, %v, %v) = %d, want %d", tt.start, tt.limit, tt.step, got, tt.want)
		}
	}
	if got := forCount(program.For{Start: program.Lit(0), Limit: program.Var("L"), Step: program.Lit(1)}); got != -1 {
		t.Errorf("variable limit: got %d", got)
	}
}
