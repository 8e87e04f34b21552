// Package riftlands implements the Riftlands AI DM, a Discord bot for
// running tabletop-style scenes: dice rolls, a persistent session log,
// and optional model-backed narration.
//
// Key components of the package include:
//
//   - Bot: The main struct that ties the pieces together and runs the bot.
//   - Discord: The discord session wrapper and gateway event handlers.
//   - CommandSyncer: Reconciles the declared slash-command set with
//     discord's command registry at startup, tolerating the registry's
//     eventual consistency with an explicit clear phase, a propagation
//     wait, verification, and bounded retries with guild-to-global
//     scope fallback.
//   - SceneStore: The persisted scene and action log.
//   - Narrator: Scene narration, OpenAI-backed when configured, with
//     canned fallbacks otherwise.
//   - API: An operator-facing status server exposing health, the last
//     sync report, and a manual re-sync trigger.
//
// The bot supports the slash commands /ping, /act, /attack, /recap,
// /resolve, /resolve-test and /debug-scene, plus a "!ping" plain-message
// fallback that works even when slash-command registration failed.
package riftlands
