package macsec_test

import (
	"errors"
	"testing"

	"github.com/m-lab/netlinkctl/genl/macsec"
	"github.com/m-lab/netlinkctl/nlerr"
)

func TestNewSABounds(t *testing.T) {
	key := make([]byte, 16)
	for an := uint8(0); an <= 3; an++ {
		sa, err := macsec.NewSA(an, key)
		if err != nil {
			t.Errorf("NewSA(%d) failed: %v", an, err)
		}
		if sa.AN != an {
			t.Errorf("AN = %d, want %d", sa.AN, an)
		}
	}

	_, err := macsec.NewSA(4, key)
	if err == nil {
		t.Fatal("AN 4 must be rejected")
	}
	var verr *nlerr.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error is %T, want *nlerr.ValidationError", err)
	}
}
