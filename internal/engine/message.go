package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Message is one row off the history or orders tape (§6 External
// interfaces). The replay driver decodes raw columnar/CSV rows into this
// shape before handing them to OrderBook.Process.
type Message struct {
	FID                 int64
	CharacteristicID     int64
	State               byte
	BookEntryTime       time.Time // tbe
	ValidityTime        time.Time // tva
	ModificationTime    time.Time
	Side                Side
	Kind                Kind
	ExecutionFlag       byte
	Validity            string
	Expiration          time.Time
	Price               decimal.Decimal
	StopPrice           decimal.Decimal
	InitialQty          uint64
	MinExecQty          uint64
	DisclosedQty        uint64
	NegotiatedQty       uint64
	RemainingQty        uint64
	App                 string
	Origin              string
	Account             string
	NumTrades           int
	Member              MemberClass
	UpdateTime          time.Time
}

func (m Message) toOrder() *Order {
	return &Order{
		FID:           m.FID,
		Side:          m.Side,
		Kind:          m.Kind,
		Member:        m.Member,
		Price:         m.Price,
		StopPrice:     m.StopPrice,
		InitialQty:    m.InitialQty,
		RemainingQty:  m.InitialQty,
		NegotiatedQty: 0,
		MinExecQty:    m.MinExecQty,
		DisclosedQty:  m.DisclosedQty,
		Account:       m.Account,
		Validity:      m.Validity,
		BookEntry:     m.BookEntryTime,
		ValidTime:     m.ValidityTime,
		Expiration:    m.Expiration,
	}
}
