package offchain

import (
	"context"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/internal/offchain/payment"
)

// Business is the policy surface the engine calls into at specific points
// (spec.md §6). Any method may return a *BusinessForceAbort to abort the
// payment from within payment_process_async.
type Business interface {
	GetMyAddress() address.Address

	IsSender(p payment.PaymentObject, ctx any) bool
	IsRecipient(p payment.PaymentObject, ctx any) bool

	// ValidateRecipientSignature returns a *BusinessValidationFailure if the
	// signature on p does not check out.
	ValidateRecipientSignature(p payment.PaymentObject) error

	PaymentPreProcessing(ctx context.Context, other address.Address, cid string, cmd payment.Command, p payment.PaymentObject) (any, error)
	PaymentInitialProcessing(ctx context.Context, p payment.PaymentObject, bctx any) error

	CheckAccountExistence(ctx context.Context, p payment.PaymentObject, bctx any) error
	NextKYCLevelToRequest(ctx context.Context, p payment.PaymentObject, bctx any) (payment.Status, error)
	NextKYCToProvide(ctx context.Context, p payment.PaymentObject, bctx any) (map[payment.Status]bool, error)
	GetExtendedKYC(ctx context.Context, p payment.PaymentObject, bctx any) ([]byte, error)
	GetAdditionalKYC(ctx context.Context, p payment.PaymentObject, bctx any) ([]byte, error)
	GetRecipientSignature(ctx context.Context, p payment.PaymentObject, bctx any) (string, error)
	ReadyForSettlement(ctx context.Context, p payment.PaymentObject, bctx any) (bool, error)
}
