package domain

import "errors"

var (
	ErrWalletNotFound      = errors.New("billetera no encontrada")
	ErrDebtNotFound        = errors.New("deuda no encontrada")
	ErrServicioNotFound    = errors.New("servicio no encontrado")
	ErrConductorNotFound   = errors.New("conductor no encontrado")
	ErrNoConductorAssigned = errors.New("servicio no tiene conductor asignado")
	ErrInvalidAmount       = errors.New("el monto debe ser mayor a cero")
	ErrNoPendingDebt       = errors.New("no hay deuda pendiente para pagar")
	ErrSweepRunning        = errors.New("debt sweep already running")
)
