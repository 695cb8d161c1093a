package store

import (
	"strconv"
	"time"

	"github.com/hindsight-ai/hindsight-go/pkg/kv"
)

// KV key layout, following the same "{prefix}:{bank}:{...}" idiom as the
// teacher's memory package (pkg/memory/keys.go's memPrefix/longTermKey
// shape), generalized from a single persona prefix to the seven record
// families described in spec.md §6:
//
//	bank:{bankID}                                  → msgpack Bank
//	doc:{bankID}:{docID}                           → msgpack Document
//	doc_units:{bankID}:{docID}:{unitID}             → "" (index: units of a doc)
//	unit:{bankID}:{unitID}                         → msgpack MemoryUnit
//	unit_by_time:{bankID}:{tsKey}:{unitID}         → "" (index: recency scan)
//	link:{bankID}:{fromUnitID}:{toUnitID}:{type}:{entityOrZero} → msgpack MemoryLink
//	link_from:{bankID}:{fromUnitID}:{type}:{toUnitID}          → "" (fan-out index)
//	entity:{bankID}:{entityID}                     → msgpack Entity
//	entity_by_name:{bankID}:{normalizedName}       → entityID (exact-match index)
//	unit_entity:{bankID}:{unitID}:{entityID}       → ""
//	entity_unit:{bankID}:{entityID}:{unitID}       → "" (reverse index)
//	op:{bankID}:{opID}                             → msgpack AsyncOperation

func bankKey(bankID string) kv.Key { return kv.Key{"bank", bankID} }

func bankPrefix() kv.Key { return kv.Key{"bank"} }

func docKey(bankID, docID string) kv.Key { return kv.Key{"doc", bankID, docID} }

func docPrefix(bankID string) kv.Key { return kv.Key{"doc", bankID} }

func docUnitKey(bankID, docID, unitID string) kv.Key {
	return kv.Key{"doc_units", bankID, docID, unitID}
}

func docUnitPrefix(bankID, docID string) kv.Key {
	return kv.Key{"doc_units", bankID, docID}
}

func unitKey(bankID, unitID string) kv.Key { return kv.Key{"unit", bankID, unitID} }

func unitPrefix(bankID string) kv.Key { return kv.Key{"unit", bankID} }

// timeKey formats a timestamp for lexicographic ordering, descending-sort
// friendly via reverse-nanosecond encoding (largest timestamp sorts first
// when the caller wants mentioned_at desc, per spec.md §4.1's index
// requirement on (bank_id, fact_type, mentioned_at desc)).
func timeKey(t time.Time) string {
	// Invert so that later timestamps produce lexicographically smaller
	// keys, giving a "desc" scan under kv.Store's ascending List order.
	inv := (1 << 62) - t.UnixNano()
	return strconv.FormatInt(inv, 10)
}

func unitByTimeKey(bankID string, t time.Time, unitID string) kv.Key {
	return kv.Key{"unit_by_time", bankID, timeKey(t), unitID}
}

func unitByTimePrefix(bankID string) kv.Key {
	return kv.Key{"unit_by_time", bankID}
}

func linkKey(bankID string, l *MemoryLink) kv.Key {
	eid := l.EntityID
	if eid == "" {
		eid = "-"
	}
	return kv.Key{"link", bankID, l.FromUnitID, l.ToUnitID, string(l.LinkType), eid}
}

func linkPrefix(bankID string) kv.Key { return kv.Key{"link", bankID} }

func linkFromKey(bankID, fromUnitID string, linkType LinkType, toUnitID string) kv.Key {
	return kv.Key{"link_from", bankID, fromUnitID, string(linkType), toUnitID}
}

func linkFromPrefix(bankID, fromUnitID string) kv.Key {
	return kv.Key{"link_from", bankID, fromUnitID}
}

func entityKey(bankID, entityID string) kv.Key { return kv.Key{"entity", bankID, entityID} }

func entityPrefix(bankID string) kv.Key { return kv.Key{"entity", bankID} }

func entityByNameKey(bankID, normalizedName string) kv.Key {
	return kv.Key{"entity_by_name", bankID, normalizedName}
}

func unitEntityKey(bankID, unitID, entityID string) kv.Key {
	return kv.Key{"unit_entity", bankID, unitID, entityID}
}

func unitEntityPrefix(bankID, unitID string) kv.Key {
	return kv.Key{"unit_entity", bankID, unitID}
}

func entityUnitKey(bankID, entityID, unitID string) kv.Key {
	return kv.Key{"entity_unit", bankID, entityID, unitID}
}

func entityUnitPrefix(bankID, entityID string) kv.Key {
	return kv.Key{"entity_unit", bankID, entityID}
}

func opKey(bankID, opID string) kv.Key { return kv.Key{"op", bankID, opID} }

func opPrefix(bankID string) kv.Key { return kv.Key{"op", bankID} }
