package relay

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2s"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// handshakeInitiationLen is the fixed size of a WireGuard handshake-initiation
// message (§4.1): type+reserved(4) + sender(4) + ephemeral(32) +
// encrypted_static(48) + encrypted_timestamp(28) + mac1(16) + mac2(16).
const handshakeInitiationLen = 148

// mac1Offset is where the mac1 field begins; everything before it is the
// MAC'd portion of the message.
const mac1Offset = 116

// mac1Label is the WireGuard "mac1----" construction label (§4.1, GLOSSARY).
var mac1Label = []byte("mac1----")

// isHandshakeInitiation reports whether payload has the syntactic framing of
// a WireGuard handshake-initiation message: exact length and message type 1
// with three reserved zero bytes (§4.1). It performs no decryption and
// consults no key material — a pure length+type gate.
func isHandshakeInitiation(payload []byte) bool {
	if len(payload) != handshakeInitiationLen {
		return false
	}
	return payload[0] == 1 && payload[1] == 0 && payload[2] == 0 && payload[3] == 0
}

// mac1Key derives the BLAKE2s key used to authenticate mac1 for a given
// server public key: Hash("mac1----" || server_pubkey).
func mac1Key(serverKey wgtypes.Key) [blake2s.Size]byte {
	h, _ := blake2s.New256(nil)
	h.Write(mac1Label)
	h.Write(serverKey[:])
	var out [blake2s.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// verifyMAC1 reports whether payload's mac1 field authenticates against any
// of the accepted server public keys. Anyone who knows a server's public key
// can compute mac1, so this is not authentication. Its verdict is reported
// by classify as a confidence signal and does not gate admission.
func verifyMAC1(payload []byte, keys []wgtypes.Key) bool {
	if len(payload) != handshakeInitiationLen {
		return false
	}
	want := payload[mac1Offset : mac1Offset+16]

	for _, key := range keys {
		macKey := mac1Key(key)
		mac, err := blake2s.New128(macKey[:])
		if err != nil {
			continue
		}
		mac.Write(payload[:mac1Offset])
		got := mac.Sum(nil)
		if subtle.ConstantTimeCompare(got, want) == 1 {
			return true
		}
	}
	return false
}

// classification is C1's complete verdict on one datagram from an unknown
// source: whether it passes the syntactic admission gate, plus the optional
// mac1 confidence signal for anyone logging or tracing the decision.
//
// Only IsInitiation gates admission (§4.1, §8 P2/P3): the framing check is
// the whole of the mandatory gate. mac1, when it verifies, is strong
// evidence the initiation really targets a configured server key; when it
// doesn't verify, that is not proof of anything — the real protocol's mac1
// can be computed by anyone who merely knows the server's public key, and
// an initiation crafted without the target's key still passes framing. So
// mac1Verified is carried for operator confidence (logs, the admission
// trace span) and never flips IsInitiation.
type classification struct {
	IsInitiation bool
	MAC1Verified bool
}

// classify runs C1 against a datagram from a previously-unknown source.
func classify(payload []byte, keys []wgtypes.Key) classification {
	if !isHandshakeInitiation(payload) {
		return classification{}
	}
	return classification{
		IsInitiation: true,
		MAC1Verified: verifyMAC1(payload, keys),
	}
}
