package infra

import (
	"context"
	"testing"
	"time"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	raw, err := SignJWT("s3cret", "driver-1", "driver", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tok, err := NewJWTVerifier("s3cret").VerifyIDToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if tok.UID != "driver-1" || tok.Role() != "driver" {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("s3cret")

	wrongKey, _ := SignJWT("other", "driver-1", "driver", time.Minute)
	if _, err := v.VerifyIDToken(context.Background(), wrongKey); err == nil {
		t.Error("expected signature error")
	}

	expired, _ := SignJWT("s3cret", "driver-1", "driver", -time.Minute)
	if _, err := v.VerifyIDToken(context.Background(), expired); err == nil {
		t.Error("expected expiry error")
	}

	if _, err := v.VerifyIDToken(context.Background(), "not-a-token"); err == nil {
		t.Error("expected parse error")
	}
}
