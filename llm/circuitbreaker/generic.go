package circuitbreaker

import "context"

// ExecuteTyped 是 Breaker.Execute 的类型安全泛型包装,
// 免去调用方对返回值做类型断言。
//
// 用法:
//
//	resp, err := circuitbreaker.ExecuteTyped(b, ctx, func(ctx context.Context) (*Response, error) {
//	    return adapter.Completion(ctx, req)
//	})
func ExecuteTyped[T any](b *Breaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}
