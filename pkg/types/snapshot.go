package types

// battle_snapshot (first frame after subscribe_battle):
//   seq: number // last event already reflected
//   battle:
//     id, boxId, creatorId: string
//     box: { id, name, price, items: [{ itemId, name, weight, rarity, value }] }
//     maxPlayers, entryFee, totalRounds: number
//     status: "waiting" | "active" | "finished" | "cancelled"
//     round: number // last completed round
//     participants: [{ userId, username, joinOrder, totalValue, serverSeedHash?, serverSeed? }]
//     rounds: [[{ round, userId, itemId, rarity, value }]]
//     winnerId?, reason?: string
//     payout?, fee?: number
//
// participant_joined:   { participant, participants, maxPlayers }
// battle_started:       { protocol, totalRounds, participants } // seed hashes only
// round_starting:       { round, totalRounds, startsInMs }
// round_completed:      { round, totalRounds, participants: [{ userId, username, itemId, itemName, rarity, value, totalValue }] }
// battle_finished:      { winner, payout, fee, participants } // seeds revealed
// battle_cancelled:     { reason, round, participants }
// battle_force_stopped: { reason, round, participants }
