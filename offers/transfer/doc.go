// Package transfer implements offer-based transfers over a single ledger.
//
// Instead of crediting a recipient directly, a sender escrows value into a
// pending offer; the recipient, or a handler it registered, decides whether
// to take, redirect, or ignore it.
//
// Core flow:
//   - Engine.MakeOffer debits the sender and records a pending offer.
//   - A registered Handler is dispatched synchronously after the offer is
//     committed and may reenter any Engine operation before returning.
//   - Engine.TakeOffer / Engine.RedirectOffer resolve an offer exactly once.
//   - Engine.ReclaimOffer returns escrowed funds to the sender after expiry.
//
// The package enforces deterministic behavior using typed domain errors.
package transfer
