/*
Package state contains the data model of a state channel: the constants
fixed at creation, the variables that change with each turn, and the signed
variables that participants exchange.

A channel is identified by the hash of its constants. Each state is
identified by the hash of the constants and its variables, and signatures
are made over that hash with Stellar keys, so a signing address is a Stellar
account address.

Turns are taken in round robin order: the participant at index
turnNum mod n is the mover of a state.

None of the primitives in this package are threadsafe and synchronization
must be provided by the caller if the package is used in a concurrent
context.
*/
package state
