package ethrpc

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/server/ledger"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
)

// Event signatures of the records and emergency access contracts.
var signatures = map[ledger.EventType]string{
	ledger.RecordAdded:              "RecordAdded(address,uint256,string)",
	ledger.AccessGranted:            "AccessGranted(address,address,uint256,string)",
	ledger.AccessRevoked:            "AccessRevoked(address,address,uint256)",
	ledger.RecordAccessed:           "RecordAccessed(address,address,uint256,uint256)",
	ledger.EmergencyAccessRequested: "EmergencyAccessRequested(address,address,uint256)",
	ledger.EmergencyAccessApproved:  "EmergencyAccessApproved(address,address,uint256)",
	ledger.EmergencyAccessRevoked:   "EmergencyAccessRevoked(address,address)",
}

// grantAccessSelector identifies grantAccess(grantee, recordId, duration,
// purpose); AccessGranted does not carry the expiry, the call data does.
var grantAccessSelector = "0x" + hex.EncodeToString(walletsig.Keccak256([]byte("grantAccess(address,uint256,uint256,string)"))[:4])

var topicTypes = func() map[string]ledger.EventType {
	m := make(map[string]ledger.EventType, len(signatures))
	for t, sig := range signatures {
		m[Topic(t)] = t
	}
	return m
}()

// Topic returns the topic0 hash of event type t.
func Topic(t ledger.EventType) string {
	return "0x" + hex.EncodeToString(walletsig.Keccak256([]byte(signatures[t])))
}

var errShort = errors.New("short abi data")

type words []byte

func decodeData(s string) (words, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, err
	}
	if len(b)%32 != 0 {
		return nil, errShort
	}
	return words(b), nil
}

func (w words) word(i int) ([]byte, error) {
	if len(w) < (i+1)*32 {
		return nil, errShort
	}
	return w[i*32 : (i+1)*32], nil
}

func (w words) num(i int) (*big.Int, error) {
	b, err := w.word(i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// str decodes the dynamic string whose offset is stored at word i.
func (w words) str(i int) (string, error) {
	off, err := w.num(i)
	if err != nil {
		return "", err
	}
	if !off.IsUint64() || off.Uint64()%32 != 0 {
		return "", errShort
	}
	start := int(off.Uint64() / 32)
	n, err := w.num(start)
	if err != nil {
		return "", err
	}
	if !n.IsUint64() {
		return "", errShort
	}
	size := int(n.Uint64())
	from := (start + 1) * 32
	if size < 0 || len(w) < from+size {
		return "", errShort
	}
	return string(w[from : from+size]), nil
}

func topicAddress(topic string) string {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) != 64 {
		return ""
	}
	return "0x" + strings.ToLower(t[24:])
}

func unixTime(v *big.Int) time.Time {
	if !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

// decodeLog turns a raw log into an event. Field problems leave the event
// incomplete so Normalize rejects it; the second result is false for logs
// that are not consent events at all.
func decodeLog(l rpcLog) (ledger.Event, bool, error) {
	if len(l.Topics) == 0 {
		return ledger.Event{}, false, nil
	}
	typ, ok := topicTypes[strings.ToLower(l.Topics[0])]
	if !ok {
		return ledger.Event{}, false, nil
	}
	block, err := parseQuantity(l.BlockNumber)
	if err != nil {
		return ledger.Event{}, true, err
	}
	idx, err := parseQuantity(l.LogIndex)
	if err != nil {
		return ledger.Event{}, true, err
	}

	ev := ledger.Event{
		Type:   typ,
		Cursor: ledger.Cursor{Block: block, LogIndex: idx},
		TxHash: l.TxHash,
	}
	topic := func(i int) string {
		if i < len(l.Topics) {
			return topicAddress(l.Topics[i])
		}
		return ""
	}
	ev.Patient = topic(1)
	if typ != ledger.RecordAdded {
		ev.Subject = topic(2)
	}

	data, err := decodeData(l.Data)
	if err != nil {
		return ev, true, nil
	}

	switch typ {
	case ledger.RecordAdded:
		if id, err := data.num(0); err == nil {
			ev.RecordID = id.String()
		}
		ev.CID, _ = data.str(1)
	case ledger.AccessGranted:
		if id, err := data.num(0); err == nil {
			ev.RecordID = id.String()
		}
		ev.Purpose, _ = data.str(1)
	case ledger.AccessRevoked:
		if id, err := data.num(0); err == nil {
			ev.RecordID = id.String()
		}
	case ledger.RecordAccessed:
		if id, err := data.num(0); err == nil {
			ev.RecordID = id.String()
		}
		if ts, err := data.num(1); err == nil {
			ev.Timestamp = unixTime(ts)
		}
	case ledger.EmergencyAccessRequested:
		if d, err := data.num(0); err == nil && d.IsInt64() {
			ev.Duration = time.Duration(d.Int64()) * time.Second
		}
	case ledger.EmergencyAccessApproved:
		if exp, err := data.num(0); err == nil {
			ev.Expiry = unixTime(exp)
		}
	}
	return ev, true, nil
}

// grantDuration extracts the duration argument from grantAccess call data.
func grantDuration(input string) (time.Duration, bool) {
	if !strings.HasPrefix(strings.ToLower(input), grantAccessSelector) {
		return 0, false
	}
	args, err := decodeData(input[len(grantAccessSelector):])
	if err != nil {
		return 0, false
	}
	d, err := args.num(2)
	if err != nil || !d.IsInt64() {
		return 0, false
	}
	return time.Duration(d.Int64()) * time.Second, true
}
