package evm

import (
	"fmt"

	"dexfeed/internal/chain"
	"dexfeed/internal/domain"
)

// DecodeSwap decodes a Swap log into a canonical SwapEvent. The block
// timestamp is left unset; the normalizer resolves it through its cache.
func DecodeSwap(ev chain.RawEvent) (*domain.SwapEvent, error) {
	if len(ev.Topics) != 3 {
		return nil, fmt.Errorf("%w: swap log has %d topics, want 3", domain.ErrMalformedEvent, len(ev.Topics))
	}

	sender, err := topicAddress(ev.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	recipient, err := topicAddress(ev.Topics[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	words, err := dataWords(ev.Data, 4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	return &domain.SwapEvent{
		Chain:       ev.Chain,
		PairAddress: ev.PairAddress,
		Sender:      sender,
		Recipient:   recipient,
		Amount0In:   wordAmount(words[0]),
		Amount1In:   wordAmount(words[1]),
		Amount0Out:  wordAmount(words[2]),
		Amount1Out:  wordAmount(words[3]),
		TxHash:      ev.TxHash,
		Timestamp:   ev.Timestamp,
	}, nil
}

// DecodeTransfer decodes a Transfer log into a canonical TransferEvent.
func DecodeTransfer(ev chain.RawEvent) (*domain.TransferEvent, error) {
	if len(ev.Topics) != 3 {
		return nil, fmt.Errorf("%w: transfer log has %d topics, want 3", domain.ErrMalformedEvent, len(ev.Topics))
	}

	from, err := topicAddress(ev.Topics[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	to, err := topicAddress(ev.Topics[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	words, err := dataWords(ev.Data, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	return &domain.TransferEvent{
		Chain:       ev.Chain,
		PairAddress: ev.PairAddress,
		From:        from,
		To:          to,
		Value:       wordAmount(words[0]),
	}, nil
}

// DecodeSync decodes a Sync log into a canonical SyncEvent.
func DecodeSync(ev chain.RawEvent) (*domain.SyncEvent, error) {
	words, err := dataWords(ev.Data, 2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	return &domain.SyncEvent{
		Chain:       ev.Chain,
		PairAddress: ev.PairAddress,
		Reserve0:    wordAmount(words[0]),
		Reserve1:    wordAmount(words[1]),
	}, nil
}
