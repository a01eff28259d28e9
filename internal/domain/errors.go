package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка: операция требует идентифицированного пользователя.
	ErrUnauthenticated = errors.New("unauthenticated")
	// Ошибка оформления пустой корзины.
	ErrEmptyCart = errors.New("cart is empty")
	// Ошибка нехватки средств на кошельке.
	ErrInsufficientFunds = errors.New("insufficient wallet funds")
	// Ошибка, если остаток товара меньше запрошенного количества.
	ErrInsufficientStock = errors.New("insufficient stock")
	// Ошибка, если монет меньше, чем пользователь хочет списать.
	ErrInsufficientCoinBalance = errors.New("insufficient coin balance")
	// ErrVoucherInvalid покрывает отсутствующий, истёкший, использованный и чужой ваучер.
	ErrVoucherInvalid = errors.New("voucher invalid")
	// Ошибка недопустимого перехода статуса заказа.
	ErrInvalidState = errors.New("invalid order state")
	// Ошибка доступа к чужому заказу.
	ErrForbidden = errors.New("forbidden")
	// Сетевая ошибка или ошибка авторизации платёжного шлюза.
	ErrGatewayError = errors.New("payment gateway error")
	// Шлюз ответил неуспешным статусом.
	ErrGatewayDeclined = errors.New("payment gateway declined")
	// Ошибка записи в хранилище.
	ErrPersistence = errors.New("persistence error")
	// Списанная шлюзом сумма не совпадает с итогом заказа.
	ErrCaptureAmountMismatch = errors.New("captured amount does not match order total")
	// Валюта платежа не поддерживается без пересчёта курса.
	ErrCurrencyUnsupported = errors.New("payment currency is not supported")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrVoucherNotFound возвращается, если ваучер не найден.
	ErrVoucherNotFound = errors.New("voucher not found")
	// ErrTransactionNotFound возвращается, если у заказа нет платёжной транзакции.
	ErrTransactionNotFound = errors.New("transaction not found")

	// Ошибка запроса возврата без причины.
	ErrRefundReasonRequired = errors.New("refund reason is required")
	// Ошибка неизвестного статуса заказа.
	ErrUnknownOrderStatus = errors.New("unknown order status")
	// Ошибка неподдерживаемого способа оплаты.
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	// Ошибка отрицательного количества монет.
	ErrInvalidCoins = errors.New("coins to use must be non-negative")
	// Ошибка некорректного количества баллов для конвертации.
	ErrInvalidPoints = errors.New("points to convert must be at least the conversion rate")
	// Ошибка, если баллов меньше, чем запрошено к конвертации.
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	// Ошибка неположительной суммы пополнения.
	ErrInvalidAmount = errors.New("amount must be positive")
	// Ошибка отсутствующего кода ваучера.
	ErrVoucherCodeRequired = errors.New("voucher code is required")
	// Ошибка отсутствующей даты истечения ваучера.
	ErrVoucherExpiryRequired = errors.New("voucher expiry date is required")
	// Ошибка, если не задана ровно одна из скидок: сумма или процент.
	ErrVoucherDiscountInvalid = errors.New("voucher requires exactly one of discount amount or percentage")
	// Ошибка повторного кода ваучера у одного пользователя.
	ErrVoucherCodeExists = errors.New("voucher code already exists for user")

	// Ошибка отсутствующего ключа идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Ключ идемпотентности слишком длинный или содержит недопустимые символы.
	ErrIdempotencyKeyInvalid = errors.New("idempotency key is invalid")
	// Ошибка отсутствующего хэша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// Ключ уже занят другим запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// Запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// Тот же ключ пришёл с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")

	// Ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsIdempotencyConflict проверяет, связана ли ошибка с повторным использованием ключа.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsUserFacing сообщает, что ошибку можно показать клиенту как есть:
// она вызвана входными данными, а не сбоем инфраструктуры.
func IsUserFacing(err error) bool {
	for _, target := range []error{
		ErrUnauthenticated, ErrEmptyCart, ErrInsufficientFunds, ErrInsufficientStock,
		ErrInsufficientCoinBalance, ErrVoucherInvalid, ErrInvalidState, ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var domainErrors = []error{
	ErrUnauthenticated, ErrEmptyCart, ErrInsufficientFunds, ErrInsufficientStock, ErrInsufficientCoinBalance,
	ErrVoucherInvalid, ErrInvalidState, ErrForbidden, ErrGatewayError, ErrGatewayDeclined, ErrPersistence,
	ErrOrderNotFound, ErrProductNotFound, ErrUserNotFound, ErrVoucherNotFound, ErrTransactionNotFound,
	ErrRefundReasonRequired, ErrUnknownOrderStatus, ErrUnsupportedPaymentMethod, ErrInvalidCoins,
	ErrInvalidPoints, ErrInsufficientPoints, ErrInvalidAmount, ErrVoucherCodeRequired, ErrVoucherExpiryRequired,
	ErrVoucherDiscountInvalid, ErrVoucherCodeExists, ErrCaptureAmountMismatch, ErrCurrencyUnsupported,
}

// WrapPersistence оставляет доменные ошибки как есть, а сбои хранилища помечает как ErrPersistence.
func WrapPersistence(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

// GatewayFailureError несёт идентификатор заказа во внешнем шлюзе для поддержки.
// Err равен ErrGatewayDeclined или оборачивает ErrGatewayError.
type GatewayFailureError struct {
	GatewayOrderID string
	Status         string
	Err            error
}

func (e *GatewayFailureError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gateway order %s (status %s): %v", e.GatewayOrderID, e.Status, e.Err)
	}
	return fmt.Sprintf("gateway order %s: %v", e.GatewayOrderID, e.Err)
}

func (e *GatewayFailureError) Unwrap() error { return e.Err }

// NewGatewayError оборачивает сбой вызова шлюза так, чтобы он совпадал с ErrGatewayError.
func NewGatewayError(gatewayOrderID string, err error) error {
	if !errors.Is(err, ErrGatewayError) {
		err = fmt.Errorf("%w: %v", ErrGatewayError, err)
	}
	return &GatewayFailureError{GatewayOrderID: gatewayOrderID, Err: err}
}
