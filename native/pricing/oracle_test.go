package pricing

import (
	"math/big"
	"testing"

	"nftlend/crypto"
)

func TestServePendingAnswersKnownItems(t *testing.T) {
	engine, _, _, oracleAddr := newTestEngine(t)
	oracle := NewMockOracle(oracleAddr)
	collection := testCollection(t, 1)

	if err := engine.AddItem(collection, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}
	if err := engine.AddItem(collection, 2); err != nil {
		t.Fatalf("add item: %v", err)
	}
	oracle.SetPrice(collection, 1, big.NewInt(500), true)

	if err := oracle.ServePending(engine); err != nil {
		t.Fatalf("serve pending: %v", err)
	}

	price, ok, err := engine.Price(collection, 1)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !ok || price.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 500, got ok=%v price=%s", ok, price)
	}

	// Unpriced items stay pending until the feed learns them.
	pending, err := engine.PendingItems()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].TokenID != 2 {
		t.Fatalf("expected token 2 pending, got %v", pending)
	}

	oracle.SetPrice(collection, 2, big.NewInt(700), true)
	if err := oracle.ServePending(engine); err != nil {
		t.Fatalf("serve pending: %v", err)
	}
	if pending, _ := engine.PendingItems(); len(pending) != 0 {
		t.Fatalf("expected no pending items, got %d", len(pending))
	}
}

func TestPushAllSkipsUnchangedPrices(t *testing.T) {
	engine, _, recorder, oracleAddr := newTestEngine(t)
	oracle := NewMockOracle(oracleAddr)
	collection := testCollection(t, 1)

	if err := engine.AddItem(collection, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}
	oracle.SetPrice(collection, 1, big.NewInt(500), true)
	if err := oracle.ServePending(engine); err != nil {
		t.Fatalf("serve pending: %v", err)
	}

	recorder.Reset()
	if err := oracle.PushAll(engine); err != nil {
		t.Fatalf("push all: %v", err)
	}
	if evts := recorder.Events(); len(evts) != 0 {
		t.Fatalf("unchanged price re-push must not emit, got %d events", len(evts))
	}

	oracle.SetPrice(collection, 1, big.NewInt(300), true)
	if err := oracle.PushAll(engine); err != nil {
		t.Fatalf("push all: %v", err)
	}
	evts := recorder.Events()
	if len(evts) != 1 || evts[0].Type != EventTypeNftPriceUpdated {
		t.Fatalf("expected one update event, got %v", eventTypes(recorder))
	}
	price, ok, _ := engine.Price(collection, 1)
	if !ok || price.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected 300 after drop, got ok=%v price=%s", ok, price)
	}
}

func TestPushAllPropagatesEligibilityFlip(t *testing.T) {
	engine, _, _, oracleAddr := newTestEngine(t)
	oracle := NewMockOracle(oracleAddr)
	collection := testCollection(t, 1)

	if err := engine.AddItem(collection, 1); err != nil {
		t.Fatalf("add item: %v", err)
	}
	oracle.SetPrice(collection, 1, big.NewInt(500), true)
	if err := oracle.ServePending(engine); err != nil {
		t.Fatalf("serve pending: %v", err)
	}

	oracle.SetPrice(collection, 1, big.NewInt(500), false)
	if err := oracle.PushAll(engine); err != nil {
		t.Fatalf("push all: %v", err)
	}
	if _, ok, _ := engine.Price(collection, 1); ok {
		t.Fatal("delisted item should not be usable")
	}
}

func TestLoadSeed(t *testing.T) {
	oracleAddr := crypto.ModuleAddress("mockoracle")
	oracle := NewMockOracle(oracleAddr)
	seed := []byte(`
collections:
  - symbol: GOOD
    tokens:
      - id: 0
        price: "1000"
      - id: 1
        price: "2500"
        eligible: false
`)
	if err := oracle.LoadSeed(seed); err != nil {
		t.Fatalf("load seed: %v", err)
	}

	collection := crypto.CollectionModuleAddress("GOOD")
	entry, ok := oracle.lookup(collection, 0)
	if !ok || entry.price.Cmp(big.NewInt(1000)) != 0 || !entry.eligible {
		t.Fatalf("unexpected entry for token 0: %+v ok=%v", entry, ok)
	}
	entry, ok = oracle.lookup(collection, 1)
	if !ok || entry.price.Cmp(big.NewInt(2500)) != 0 || entry.eligible {
		t.Fatalf("unexpected entry for token 1: %+v ok=%v", entry, ok)
	}
}

func TestLoadSeedRejectsBadFixtures(t *testing.T) {
	oracle := NewMockOracle(crypto.ModuleAddress("mockoracle"))
	cases := map[string]string{
		"missing symbol": `
collections:
  - tokens:
      - id: 0
        price: "10"
`,
		"negative price": `
collections:
  - symbol: BAD
    tokens:
      - id: 0
        price: "-5"
`,
		"non-numeric price": `
collections:
  - symbol: BAD
    tokens:
      - id: 0
        price: "ten"
`,
	}
	for name, fixture := range cases {
		if err := oracle.LoadSeed([]byte(fixture)); err == nil {
			t.Fatalf("%s: fixture accepted", name)
		}
	}
}
