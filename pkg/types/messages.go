package types

// Client -> Server
// Every frame: { type, requestId? }. Commands other than identify and
// (un)subscribe require an identity first.
//
// identify:
//   userId: string
//   username: string
//
// subscribe_battle:
//   battleId: string
//
// unsubscribe_battle: {}
//
// subscribe_lobby / unsubscribe_lobby: {}
//   battle_created and battle_removed for every battle in the registry
//
// create_battle:
//   boxId: string
//   maxPlayers: number   // 2..BATTLE_MAX_PLAYERS
//   entryFee: number     // cents, 0 for a free battle
//   totalRounds: number  // 1..BATTLE_MAX_ROUNDS
//
// join_battle / start_battle:
//   battleId: string
//
// cancel_battle:
//   battleId: string
//   reason: string // optional, defaults to "creator_abort"

// Server -> Client
// ack:
//   requestId: string
//   data: { userId } (identify) | battle (create_battle) | omitted
//
// error:
//   requestId: string
//   code: "validation" | "not_found" | "conflict" | "insufficient_funds" | "integrity" | "unknown"
//   error: string
//
// Battle events: { type, seq, battleId, data }, see snapshot.go.
//
// Lobby events: { type, seq, battleId, data }. seq counts lobby events only.
// battle_created:
//   data: { battle } // as created, before anyone joined
// battle_removed: {} // archived and gone from the registry
//
// subscription_closed:
//   battleId: string // the server dropped this subscriber; resubscribe for a fresh snapshot.
//                    // Empty for the lobby. Never sent after an unsubscribe.
