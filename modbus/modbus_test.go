package modbus

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/RichiH/modbus_gateway/device"
	"github.com/RichiH/modbus_gateway/tests/fakedevice"
)

func TestDecodeRegisters(t *testing.T) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b, 65408)
	binary.BigEndian.PutUint16(b[2:], 240)

	words, err := decodeRegisters(b, 2)
	if err != nil {
		t.Fatal(err)
	}
	if words[0] != 65408 || words[1] != 240 {
		t.Fatalf("expected [65408 240] but got %v", words)
	}
}

func TestDecodeBits(t *testing.T) {
	bits, err := decodeBits([]byte{0x05, 0x01}, 9)
	if err != nil {
		t.Fatal(err)
	}

	expected := []bool{true, false, true, false, false, false, false, false, true}
	for i, b := range expected {
		if bits[i] != b {
			t.Fatalf("expected %v at index %v but got %v", b, i, bits[i])
		}
	}
}

func TestDecodeInsufficientRegisters(t *testing.T) {
	_, err := decodeRegisters([]byte{0x01}, 1)
	if err == nil {
		t.Fatal("expected error but got nil")
	}

	switch err.(type) {
	case *InsufficientRegistersError:
	default:
		t.Fatal("expected InsufficientRegistersError")
	}

	if _, err := decodeBits([]byte{}, 1); err == nil {
		t.Fatal("expected error for empty bit response but got nil")
	}
}

func startServer(t *testing.T) *fakedevice.Server {
	t.Helper()

	serv, err := fakedevice.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(serv.Close)
	return serv
}

func testDevice(serv *fakedevice.Server) *device.Device {
	return &device.Device{
		Name:      "fake",
		IPAddress: serv.Host,
		Port:      serv.Port,
		Protocol:  device.ProtocolTCP,
	}
}

func TestSessionRead(t *testing.T) {
	serv := startServer(t)
	serv.HoldingRegisters[22] = 240
	serv.HoldingRegisters[23] = 65408
	serv.InputRegisters[5] = 128
	serv.Coils[24] = 1
	serv.DiscreteInputs[3] = 1

	s, err := NewOpener(time.Second).Open(testDevice(serv))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	words, err := s.ReadRegisters(device.Holding, 22, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 2 || words[0] != 240 || words[1] != 65408 {
		t.Fatalf("expected [240 65408] but got %v", words)
	}

	words, err = s.ReadRegisters(device.Input, 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(words) != 1 || words[0] != 128 {
		t.Fatalf("expected [128] but got %v", words)
	}

	bits, err := s.ReadCoils(device.Coil, 24, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bits[0] {
		t.Fatal("expected coil 24 to be set")
	}

	bits, err = s.ReadCoils(device.Discrete, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bits[0] {
		t.Fatal("expected discrete input 3 to be set")
	}

	if _, err := s.ReadRegisters("output", 0, 1); !errors.Is(err, ErrReadFailed) {
		t.Fatalf("expected %v but got %v", ErrReadFailed, err)
	}
}

func TestSessionWrite(t *testing.T) {
	serv := startServer(t)

	s, err := NewOpener(time.Second).Open(testDevice(serv))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.WriteRegister(10, 4242); err != nil {
		t.Fatal(err)
	}
	words, err := s.ReadRegisters(device.Holding, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	if words[0] != 4242 {
		t.Fatalf("expected 4242 but got %v", words[0])
	}

	if err := s.WriteCoil(7, true); err != nil {
		t.Fatal(err)
	}
	bits, err := s.ReadCoils(device.Coil, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !bits[0] {
		t.Fatal("expected coil 7 to be set")
	}

	if err := s.WriteCoil(7, false); err != nil {
		t.Fatal(err)
	}
	bits, err = s.ReadCoils(device.Coil, 7, 1)
	if err != nil {
		t.Fatal(err)
	}
	if bits[0] {
		t.Fatal("expected coil 7 to be cleared")
	}
}

func TestOpenErrors(t *testing.T) {
	o := NewOpener(500 * time.Millisecond)

	_, err := o.Open(&device.Device{Name: "bad", IPAddress: "300.34.23.2", Port: 502})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected %v but got %v", ErrInvalidAddress, err)
	}

	host, port, err := fakedevice.UnusedAddress()
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Open(&device.Device{Name: "down", IPAddress: host, Port: port})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected %v but got %v", ErrConnectionFailed, err)
	}
}
