package identity

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("hello, spaceway")
	sig := kp.Sign(msg)

	if !Verify(kp.UserId(), msg, sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp1, _ := Generate()
	kp2, _ := Generate()
	msg := []byte("test message")
	sig := kp1.Sign(msg)

	if Verify(kp2.UserId(), msg, sig) {
		t.Fatalf("expected verification to fail with wrong key")
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, _ := Generate()
	sig := kp.Sign([]byte("original"))

	if Verify(kp.UserId(), []byte("tampered"), sig) {
		t.Fatalf("expected verification to fail on tampered message")
	}
}

func TestFromSeedDeterministic(t *testing.T) {
	kp1, _ := Generate()
	seed := kp1.Seed()

	kp2, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	if kp1.UserId() != kp2.UserId() {
		t.Fatalf("expected same UserId from same seed")
	}
}
