package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "fleetobs"
)

// Ключи для Sets (состояние)
const (
	RedisKeySilencedAgents  = RedisNamespace + ":agents:silenced_set"
	RedisKeyLockSilenceWarm = RedisNamespace + ":lock:warmup:silenced"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanBurnAlerts — канал handoff: сюда уходят BurnEvaluation с severity != none,
	// внешний alert-router подписан на него.
	RedisChanBurnAlerts = RedisNamespace + ":alerts:burn-signal"
	RedisChanSilence    = RedisNamespace + ":agents:silence-signal"
)
