package servo

import (
	"errors"
	"math"
	"testing"
)

func TestDriveMapping_Duty(t *testing.T) {
	m := DefaultMapping()

	tests := []struct {
		angle    float64
		expected float64
	}{
		{0, 4.0},
		{45, 6.125},
		{90, 8.25},
		{135, 10.375},
		{180, 12.5},
	}

	for _, tt := range tests {
		got, err := m.Duty(tt.angle)
		if err != nil {
			t.Fatalf("Duty(%g): %v", tt.angle, err)
		}
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("Duty(%g) = %f, want %f", tt.angle, got, tt.expected)
		}
	}
}

func TestDriveMapping_DutyLinear(t *testing.T) {
	m := DefaultMapping()
	for a := 0.0; a <= 180; a += 0.5 {
		got, err := m.Duty(a)
		if err != nil {
			t.Fatalf("Duty(%g): %v", a, err)
		}
		want := 4.0 + a*(12.5-4.0)/180
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("Duty(%g) = %f, want %f", a, got, want)
		}
	}
}

func TestDriveMapping_DutyOutOfRange(t *testing.T) {
	m := DefaultMapping()
	for _, a := range []float64{-0.001, -90, 180.001, 360, math.NaN(), math.Inf(1)} {
		if _, err := m.Duty(a); !errors.Is(err, ErrInvalidAngle) {
			t.Errorf("Duty(%g) error = %v, want ErrInvalidAngle", a, err)
		}
	}
}

func TestDriveMapping_Angle(t *testing.T) {
	m := DriveMapping{MinDuty: 2.5, MaxDuty: 12.5}

	for a := 0.0; a <= 180; a += 15 {
		duty, err := m.Duty(a)
		if err != nil {
			t.Fatal(err)
		}
		back, err := m.Angle(duty)
		if err != nil {
			t.Fatalf("Angle(%f): %v", duty, err)
		}
		if math.Abs(back-a) > 1e-9 {
			t.Errorf("round trip %g -> %f -> %g", a, duty, back)
		}
	}

	if _, err := m.Angle(1.0); !errors.Is(err, ErrInvalidAngle) {
		t.Errorf("Angle(1.0) error = %v, want ErrInvalidAngle", err)
	}
}

func TestDriveMapping_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mapping DriveMapping
		valid   bool
	}{
		{"default", DefaultMapping(), true},
		{"full range", DriveMapping{0, 100}, true},
		{"inverted", DriveMapping{12.5, 4}, false},
		{"empty", DriveMapping{5, 5}, false},
		{"negative", DriveMapping{-1, 10}, false},
		{"above 100", DriveMapping{10, 101}, false},
		{"nan", DriveMapping{math.NaN(), 10}, false},
	}

	for _, tt := range tests {
		err := tt.mapping.Validate()
		if tt.valid && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidMapping) {
			t.Errorf("%s: error = %v, want ErrInvalidMapping", tt.name, err)
		}
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidAngle, "InvalidAngle"},
		{ErrUnknownActuator, "UnknownActuator"},
		{ErrDuplicateName, "DuplicateName"},
		{ErrNotInitialized, "NotInitialized"},
		{errors.New("boom"), "Unknown"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	// Sink errors wrap both ErrSink and the sink's own error.
	a, _ := NewActuator("s1", DefaultMapping(), 0)
	a.Attach(&fakeSink{writeErr: errors.New("io")})
	if got := Kind(a.SetAngle(10)); got != "SinkError" {
		t.Errorf("Kind(sink failure) = %q, want SinkError", got)
	}
}
