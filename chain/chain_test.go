package chain_test

import (
	"math/big"
	"strings"
	"testing"

	"3send.xyz/send/chain"
	"3send.xyz/send/chain/chaintest"
)

const testSender = "0x00112233445566778899aabbccddeeff00112233"

func TestDecodeBurnEvent(t *testing.T) {
	log := chaintest.BurnLog(testSender, 2, big.NewInt(5000000), big.NewInt(125))
	ev, ok := chain.DecodeBurnEvent(log)
	if !ok {
		t.Fatalf("DecodeBurnEvent rejected a valid log")
	}
	if ev.Sender != testSender {
		t.Fatalf("Sender = %s, want %s", ev.Sender, testSender)
	}
	if ev.TierIndex != 2 {
		t.Fatalf("TierIndex = %d, want 2", ev.TierIndex)
	}
	if ev.AmountPrimary.Cmp(big.NewInt(5000000)) != 0 {
		t.Fatalf("AmountPrimary = %s", ev.AmountPrimary)
	}
	if ev.AmountSecondary.Cmp(big.NewInt(125)) != 0 {
		t.Fatalf("AmountSecondary = %s", ev.AmountSecondary)
	}
}

func TestDecodeBurnEvent_Rejections(t *testing.T) {
	valid := chaintest.BurnLog(testSender, 1, big.NewInt(1), big.NewInt(0))

	noTopics := valid
	noTopics.Topics = valid.Topics[:1]
	if _, ok := chain.DecodeBurnEvent(noTopics); ok {
		t.Fatalf("accepted log without sender topic")
	}

	wrongTopic0 := valid
	wrongTopic0.Topics = []string{"0x" + strings.Repeat("aa", 32), valid.Topics[1]}
	if _, ok := chain.DecodeBurnEvent(wrongTopic0); ok {
		t.Fatalf("accepted log with a different event signature")
	}

	shortData := valid
	shortData.Data = valid.Data[:64]
	if _, ok := chain.DecodeBurnEvent(shortData); ok {
		t.Fatalf("accepted log with truncated data")
	}
}

func TestBurnEventTopic_Stable(t *testing.T) {
	topic := chain.BurnEventTopic()
	if len(topic) != 66 || !strings.HasPrefix(topic, "0x") {
		t.Fatalf("topic shape: %s", topic)
	}
	if topic != chain.BurnEventTopic() {
		t.Fatalf("topic not stable")
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, ok := chain.NormalizeAddress(" 0xABCDEF0123456789abcdef0123456789ABCDEF01 ")
	if !ok || got != "0xabcdef0123456789abcdef0123456789abcdef01" {
		t.Fatalf("NormalizeAddress = %q, %v", got, ok)
	}
	if _, ok := chain.NormalizeAddress("0x1234"); ok {
		t.Fatalf("short address accepted")
	}
}

func TestIsTxRef(t *testing.T) {
	if !chain.IsTxRef("0x" + strings.Repeat("ab", 32)) {
		t.Fatalf("valid tx ref rejected")
	}
	if chain.IsTxRef("3send-free:abc") {
		t.Fatalf("free reference classified as tx ref")
	}
	if chain.IsTxRef("0x" + strings.Repeat("ab", 31)) {
		t.Fatalf("short ref accepted")
	}
}
